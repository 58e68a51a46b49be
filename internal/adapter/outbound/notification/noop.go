package notification

import (
	"context"
	"log/slog"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
)

// NoopNotifier logs notifications instead of sending them.
// Used when Slack is not configured.
type NoopNotifier struct {
	logger *slog.Logger
}

var _ outbound.Notifier = (*NoopNotifier)(nil)

// NewNoopNotifier creates a new NoopNotifier.
func NewNoopNotifier(logger *slog.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger.With("component", "notifier")}
}

func (n *NoopNotifier) NotifyCommand(_ context.Context, inv model.CommandInvocation, result model.CommandResult) error {
	n.logger.Debug("noop: command notification",
		"invocation_id", inv.ID,
		"namespace", inv.Namespace,
		"command", inv.Command,
		"success", result.Success,
	)
	return nil
}
