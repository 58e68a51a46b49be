package kubernetes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

// RunResult is the outcome of one process run.
type RunResult struct {
	Output   string
	ExitCode int
}

// CommandRunner runs a binary. A non-zero exit is reported in RunResult,
// not as an error.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (RunResult, error)
}

// ExecRunner runs commands with os/exec, merging stdout and stderr.
type ExecRunner struct {
	// WaitDelay bounds how long a cancelled process may keep its pipes open.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args []string) (RunResult, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = r.WaitDelay

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return RunResult{Output: out.String(), ExitCode: exitErr.ExitCode()}, nil
		}
		if ctx.Err() != nil {
			return RunResult{Output: out.String(), ExitCode: -1}, ctx.Err()
		}
		return RunResult{Output: out.String(), ExitCode: -1}, fmt.Errorf("running %s: %w", name, err)
	}
	return RunResult{Output: out.String()}, nil
}

type ExecutorConfig struct {
	KubectlPath string
	Kubeconfig  string
}

// Executor runs whitelisted kubectl commands scoped to one namespace. The
// namespace must exist and the gateway's identity must be allowed the action.
type Executor struct {
	clientset kubernetes.Interface
	whitelist *Whitelist
	reader    *Reader
	runner    CommandRunner
	cfg       ExecutorConfig
	logger    *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(clientset kubernetes.Interface, whitelist *Whitelist, runner CommandRunner, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.KubectlPath == "" {
		cfg.KubectlPath = "kubectl"
	}
	return &Executor{
		clientset: clientset,
		whitelist: whitelist,
		reader:    NewReader(clientset),
		runner:    runner,
		cfg:       cfg,
		logger:    logger.With("component", "k8s-executor"),
	}
}

// RunCommand validates req and runs it with kubectl.
func (e *Executor) RunCommand(ctx context.Context, req outbound.CommandRequest) (outbound.CommandOutput, error) {
	args, err := e.whitelist.ParseCommand(req.Command)
	if err != nil {
		return outbound.CommandOutput{}, err
	}
	if e.whitelist.IsNamespaceBlocked(req.Namespace) {
		return outbound.CommandOutput{}, apierror.PermissionDenied(fmt.Sprintf("namespace %q is blocked", req.Namespace))
	}
	if _, err := e.reader.GetNamespace(ctx, req.Namespace); err != nil {
		return outbound.CommandOutput{}, err
	}
	if check, ok := accessFor(args); ok {
		if err := e.reviewAccess(ctx, req.Namespace, check); err != nil {
			return outbound.CommandOutput{}, err
		}
	}

	kubectlArgs := append(append([]string{}, args...), "-n", req.Namespace)
	if e.cfg.Kubeconfig != "" {
		kubectlArgs = append(kubectlArgs, "--kubeconfig", e.cfg.Kubeconfig)
	}
	if req.Timeout > 0 {
		kubectlArgs = append(kubectlArgs, "--request-timeout", req.Timeout.String())
	}

	e.logger.Debug("running kubectl", "namespace", req.Namespace, "args", args)
	res, err := e.runner.Run(ctx, e.cfg.KubectlPath, kubectlArgs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return outbound.CommandOutput{Output: res.Output, ExitCode: res.ExitCode},
				apierror.Wrap(apierror.KindTimeout, "command timed out", err)
		}
		return outbound.CommandOutput{Output: res.Output, ExitCode: res.ExitCode}, classify(err, "running kubectl")
	}
	return outbound.CommandOutput{
		Output:    res.Output,
		Succeeded: res.ExitCode == 0,
		ExitCode:  res.ExitCode,
	}, nil
}

// HealthCheck verifies connectivity to the API server via ServerVersion.
func (e *Executor) HealthCheck(_ context.Context) error {
	if _, err := e.clientset.Discovery().ServerVersion(); err != nil {
		return classify(err, "k8s health check")
	}
	return nil
}
