package outbound

import (
	"context"

	"github.com/belv2c/kubinaut/internal/domain/model"
)

// Notifier tells operators about executed commands.
type Notifier interface {
	NotifyCommand(ctx context.Context, inv model.CommandInvocation, result model.CommandResult) error
}
