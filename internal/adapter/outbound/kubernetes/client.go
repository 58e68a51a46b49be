package kubernetes

import (
	"fmt"
	"log/slog"
	"time"

	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
)

// NewClientset creates a Kubernetes clientset from in-cluster config or a kubeconfig file.
// An empty kubeconfigPath falls back to the default loading rules.
func NewClientset(inCluster bool, kubeconfigPath string) (k8s.Interface, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
	} else if kubeconfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("building k8s config: %w", err)
	}

	return k8s.NewForConfig(config)
}

type ClientConfig struct {
	ResyncPeriod time.Duration
	Whitelist    WhitelistConfig
	Executor     ExecutorConfig
}

// Client implements outbound.ClusterClient.
type Client struct {
	*Reader
	*Watcher
	*Executor
}

var _ outbound.ClusterClient = (*Client)(nil)

// NewClient assembles the cluster adapter over clientset. runner executes
// kubectl; ExecRunner is used when nil.
func NewClient(clientset k8s.Interface, runner CommandRunner, cfg ClientConfig, logger *slog.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{WaitDelay: 2 * time.Second}
	}
	return &Client{
		Reader:   NewReader(clientset),
		Watcher:  NewWatcher(clientset, cfg.ResyncPeriod, logger),
		Executor: NewExecutor(clientset, NewWhitelist(cfg.Whitelist), runner, cfg.Executor, logger),
	}
}
