package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/internal/metrics"
	"github.com/belv2c/kubinaut/pkg/apierror"
	"github.com/belv2c/kubinaut/pkg/ratelimit"
)

const sideEffectTimeout = 5 * time.Second

type ExecutorConfig struct {
	Timeout time.Duration
	// RateLimit is the number of commands a session may submit per minute.
	RateLimit int
}

// CommandExecutor runs namespace-scoped commands through the cluster client.
// Invocations are independent: there is no queue and no per-namespace lock.
type CommandExecutor struct {
	cluster  outbound.ClusterClient
	audit    outbound.AuditRepository
	notifier outbound.Notifier
	limiter  *ratelimit.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCommandExecutor creates an executor. audit and notifier may be nil.
func NewCommandExecutor(
	cluster outbound.ClusterClient,
	audit outbound.AuditRepository,
	notifier outbound.Notifier,
	cfg ExecutorConfig,
	logger *slog.Logger,
) *CommandExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CommandExecutor{
		cluster:  cluster,
		audit:    audit,
		notifier: notifier,
		limiter:  ratelimit.New(cfg.RateLimit),
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs inv and always returns a result; failures are reported in it.
func (e *CommandExecutor) Execute(ctx context.Context, inv model.CommandInvocation) model.CommandResult {
	timer := metrics.NewTimer()

	var result model.CommandResult
	if !e.limiter.Allow(inv.SessionID) {
		result = failure(apierror.New(apierror.KindRateLimited, "too many commands, slow down"))
	} else {
		result = e.run(ctx, inv)
	}

	timer.ObserveDuration(metrics.CommandDuration)
	outcome := "succeeded"
	if !result.Success {
		outcome = result.ErrorKind
	}
	metrics.CommandsTotal.WithLabelValues(outcome).Inc()

	done := inv.Complete(result)
	e.logger.Info("command executed",
		"invocation_id", inv.ID,
		"session_id", inv.SessionID,
		"namespace", inv.Namespace,
		"command", inv.Command,
		"success", result.Success,
		"error_kind", result.ErrorKind,
		"duration", done.Duration(),
	)
	e.record(ctx, done, result)
	return result
}

func (e *CommandExecutor) run(ctx context.Context, inv model.CommandInvocation) model.CommandResult {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.cluster.RunCommand(runCtx, outbound.CommandRequest{
		Namespace: inv.Namespace,
		Command:   inv.Command,
		Timeout:   e.timeout,
	})
	if err == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = runCtx.Err()
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !apierror.Is(err, apierror.KindTimeout) {
			err = apierror.Wrap(apierror.KindTimeout, fmt.Sprintf("command exceeded %s", e.timeout), err)
		}
		res := failure(err)
		res.Output = out.Output
		return res
	}
	if !out.Succeeded {
		return model.CommandResult{
			Success:   false,
			Message:   fmt.Sprintf("Command failed with exit code %d", out.ExitCode),
			Output:    out.Output,
			ErrorKind: "CommandFailed",
		}
	}
	return model.CommandResult{
		Success: true,
		Message: fmt.Sprintf("Command '%s' executed in namespace '%s'", inv.Command, inv.Namespace),
		Output:  out.Output,
	}
}

func failure(err error) model.CommandResult {
	kind := apierror.KindOf(err)
	return model.CommandResult{
		Success:   false,
		Message:   fmt.Sprintf("%s: %s", kind, apierror.Message(err)),
		ErrorKind: string(kind),
	}
}

// record writes the audit trail and notifies operators. Neither may change
// the result, and neither is cut short by the session closing.
func (e *CommandExecutor) record(ctx context.Context, inv model.CommandInvocation, result model.CommandResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if e.audit != nil {
		if err := e.audit.Create(ctx, model.NewAuditLog(inv, result)); err != nil {
			e.logger.Error("failed to write audit log", "invocation_id", inv.ID, "error", err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyCommand(ctx, inv, result); err != nil {
			e.logger.Warn("failed to send command notification", "invocation_id", inv.ID, "error", err)
		}
	}
}

// ReleaseSession drops per-session limiter state.
func (e *CommandExecutor) ReleaseSession(sessionID string) {
	e.limiter.Forget(sessionID)
}

// Stop releases background resources.
func (e *CommandExecutor) Stop() {
	e.limiter.Stop()
}
