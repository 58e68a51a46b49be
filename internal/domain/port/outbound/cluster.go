package outbound

import (
	"context"
	"time"

	"github.com/belv2c/kubinaut/internal/domain/model"
)

type CommandRequest struct {
	Namespace string
	Command   string
	Timeout   time.Duration
}

type CommandOutput struct {
	Output    string
	Succeeded bool
	ExitCode  int
}

// ClusterClient is the I/O boundary to the Kubernetes API. Errors are
// classified with apierror kinds: ClusterUnreachable, PermissionDenied,
// NotFound and Timeout.
type ClusterClient interface {
	ListNamespaces(ctx context.Context) ([]model.Namespace, error)
	// Watch streams changes for kind, optionally scoped to namespace. A relist
	// after reconnect re-delivers known objects, so consumers must apply
	// events idempotently. The channel closes when ctx is done, or right after
	// a Stale event when the cluster cannot be reached.
	Watch(ctx context.Context, kind model.Kind, namespace string) (<-chan model.ChangeEvent, error)
	RunCommand(ctx context.Context, req CommandRequest) (CommandOutput, error)
	HealthCheck(ctx context.Context) error
}
