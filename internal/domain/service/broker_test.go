package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/inbound"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/internal/domain/service"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

type harness struct {
	cluster  *fakeCluster
	cache    *service.ResourceCache
	registry *service.SessionRegistry
	executor *service.CommandExecutor
	broker   *service.Broker
	audit    *mockAuditRepo
	notifier *mockNotifier
	ctx      context.Context
}

func newHarness(t *testing.T, execCfg service.ExecutorConfig) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := discardLogger()
	h := &harness{
		cluster:  newFakeCluster(),
		registry: service.NewSessionRegistry(),
		audit:    &mockAuditRepo{},
		notifier: &mockNotifier{},
		ctx:      ctx,
	}
	dispatcher := service.NewDispatcher(h.registry, logger)
	go dispatcher.Run(ctx)

	h.cache = service.NewResourceCache(service.CacheConfig{}, dispatcher.Enqueue, logger)
	h.executor = service.NewCommandExecutor(h.cluster, h.audit, h.notifier, execCfg, logger)
	t.Cleanup(h.executor.Stop)
	h.broker = service.NewBroker(h.cache, h.executor, h.registry, service.BrokerConfig{}, logger)
	return h
}

func (h *harness) open(t *testing.T, id string) inbound.Session {
	t.Helper()
	s := h.broker.OpenSession(h.ctx, inbound.SessionInfo{ID: id, RemoteAddr: "127.0.0.1:1"})
	t.Cleanup(s.Close)
	return s
}

func (h *harness) apply(r model.Resource) {
	h.cache.Apply(model.ChangeEvent{Type: model.ChangeAdded, Kind: r.ResourceKind(), Object: r})
}

func decodeData[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestSession_GetPodsBeforeNamespaces(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	h.apply(model.Pod{Name: "web-1", Namespace: "ns1", Status: "Running"})
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "get_pods", "namespace": "ns1"})

	f := nextFrame(t, s)
	require.Equal(t, "pods_response", f.Type)
	pods := decodeData[[]model.Pod](t, f)
	require.Len(t, pods, 1)
	assert.Equal(t, "web-1", pods[0].Name)

	// Switching into ns1 pushes the sibling kinds.
	assert.Equal(t, "services_response", nextFrame(t, s).Type)
	f = nextFrame(t, s)
	assert.Equal(t, "deployments_response", f.Type)
	assert.JSONEq(t, `[]`, string(f.Data))
}

func TestSession_SameNamespaceDoesNotRepush(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "get_services", "namespace": "ns1"})
	assert.Equal(t, "services_response", nextFrame(t, s).Type)
	assert.Equal(t, "pods_response", nextFrame(t, s).Type)
	assert.Equal(t, "deployments_response", nextFrame(t, s).Type)

	send(s, map[string]any{"type": "get_deployments", "namespace": "ns1"})
	assert.Equal(t, "deployments_response", nextFrame(t, s).Type)
	expectSilence(t, s, 50*time.Millisecond)
}

func TestSession_DecodeErrorsKeepSessionOpen(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	s := h.open(t, "s1")

	tests := []struct {
		name    string
		raw     string
		message string
	}{
		{"malformed json", `{not json`, "invalid JSON"},
		{"missing type", `{"namespace":"ns1"}`, "missing message type"},
		{"unknown type", `{"type":"get_secrets","namespace":"ns1"}`, `unknown message type "get_secrets"`},
		{"missing namespace", `{"type":"get_pods"}`, "Namespace is required"},
		{"invalid namespace", `{"type":"get_pods","namespace":"Not_Valid"}`, "invalid namespace"},
		{"missing command", `{"type":"execute_command","namespace":"ns1"}`, "Command and namespace are required"},
		{"missing command namespace", `{"type":"execute_command","command":"get pods"}`, "Command and namespace are required"},
		{"invalid command namespace", `{"type":"execute_command","namespace":"Bad_NS","command":"get pods"}`, `invalid namespace "Bad_NS"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.HandleMessage([]byte(tt.raw))
			f := nextFrame(t, s)
			assert.Equal(t, "error", f.Status)
			assert.Contains(t, f.Message, tt.message)
		})
	}

	send(s, map[string]any{"type": "get_namespaces"})
	assert.Equal(t, "namespaces_response", nextFrame(t, s).Type)
}

func TestSession_UnknownNamespaceIsNotFound(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	h.apply(model.Namespace{Name: "default", Status: "Active"})
	h.cache.Apply(model.ChangeEvent{Type: model.ChangeSynced, Kind: model.KindNamespace})
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "get_pods", "namespace": "ghost"})
	f := nextFrame(t, s)
	assert.Equal(t, "error", f.Status)
	assert.Equal(t, `namespace "ghost" not found`, f.Message)

	send(s, map[string]any{"type": "get_namespaces"})
	f = nextFrame(t, s)
	require.Equal(t, "namespaces_response", f.Type)
	namespaces := decodeData[[]model.Namespace](t, f)
	require.Len(t, namespaces, 1)
	assert.Equal(t, "default", namespaces[0].Name)
}

func TestSession_CommandPermissionDenied(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	h.cluster.run = func(context.Context, outbound.CommandRequest) (outbound.CommandOutput, error) {
		return outbound.CommandOutput{}, apierror.PermissionDenied(`cannot delete pods in namespace "prod"`)
	}
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "execute_command", "command": "kubectl delete pod web-1", "namespace": "prod"})

	f := nextFrame(t, s)
	require.Equal(t, "command_response", f.Type)
	result := decodeData[model.CommandResult](t, f)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "PermissionDenied")
	assert.Contains(t, result.Message, "cannot delete pods")

	require.Eventually(t, func() bool { return h.audit.count() == 1 && h.notifier.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestSession_CommandSuccess(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	h.cluster.run = func(_ context.Context, req outbound.CommandRequest) (outbound.CommandOutput, error) {
		return outbound.CommandOutput{Output: "pod/web-1 labeled", Succeeded: true}, nil
	}
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "execute_command", "command": "label pod web-1 tier=frontend", "namespace": "ns1"})

	result := decodeData[model.CommandResult](t, nextFrame(t, s))
	assert.True(t, result.Success)
	assert.Equal(t, "pod/web-1 labeled", result.Output)
	assert.Equal(t, "Command 'label pod web-1 tier=frontend' executed in namespace 'ns1'", result.Message)
	assert.Equal(t, "ns1", h.cluster.requests[0].Namespace)
}

func TestSession_CommandTimeout(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{Timeout: 50 * time.Millisecond})
	h.cluster.run = func(ctx context.Context, _ outbound.CommandRequest) (outbound.CommandOutput, error) {
		<-ctx.Done()
		return outbound.CommandOutput{}, ctx.Err()
	}
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "execute_command", "command": "get pods -w", "namespace": "ns1"})

	result := decodeData[model.CommandResult](t, nextFrame(t, s))
	assert.False(t, result.Success)
	assert.Equal(t, string(apierror.KindTimeout), result.ErrorKind)
	assert.Contains(t, result.Message, "Timeout")
}

func TestSession_CommandRateLimited(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{RateLimit: 1})
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "execute_command", "command": "get pods", "namespace": "ns1"})
	send(s, map[string]any{"type": "execute_command", "command": "get pods", "namespace": "ns1"})

	// Both run concurrently, so either may be the one refused.
	results := []model.CommandResult{
		decodeData[model.CommandResult](t, nextFrame(t, s)),
		decodeData[model.CommandResult](t, nextFrame(t, s)),
	}
	var kinds []string
	for _, r := range results {
		kinds = append(kinds, r.ErrorKind)
	}
	assert.ElementsMatch(t, []string{"", string(apierror.KindRateLimited)}, kinds)
}

func TestSession_RepliesFollowRequestOrder(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	release := make(chan struct{})
	h.cluster.run = func(context.Context, outbound.CommandRequest) (outbound.CommandOutput, error) {
		<-release
		return outbound.CommandOutput{Output: "done", Succeeded: true}, nil
	}
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "execute_command", "command": "rollout status deployment/web", "namespace": "ns1"})
	send(s, map[string]any{"type": "get_namespaces"})

	expectSilence(t, s, 50*time.Millisecond)
	close(release)

	assert.Equal(t, "command_response", nextFrame(t, s).Type)
	assert.Equal(t, "namespaces_response", nextFrame(t, s).Type)
}

func TestSession_PushesOnCacheChange(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "get_pods", "namespace": "ns1"})
	for i := 0; i < 3; i++ {
		nextFrame(t, s)
	}

	h.apply(model.Pod{Name: "web-1", Namespace: "ns1", Status: "Running"})
	f := nextFrame(t, s)
	require.Equal(t, "pods_response", f.Type)
	assert.Len(t, decodeData[[]model.Pod](t, f), 1)

	// Changes outside the subscription are not pushed.
	h.apply(model.Pod{Name: "other", Namespace: "ns2", Status: "Running"})
	expectSilence(t, s, 50*time.Millisecond)
}

func TestSession_NamespacePushAfterGetNamespaces(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	s := h.open(t, "s1")

	send(s, map[string]any{"type": "get_namespaces"})
	assert.JSONEq(t, `[]`, string(nextFrame(t, s).Data))

	h.apply(model.Namespace{Name: "team-a", Status: "Active"})
	f := nextFrame(t, s)
	require.Equal(t, "namespaces_response", f.Type)
	assert.Len(t, decodeData[[]model.Namespace](t, f), 1)
}

func TestSession_TwoSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	release := make(chan struct{})
	defer close(release)
	h.cluster.run = func(context.Context, outbound.CommandRequest) (outbound.CommandOutput, error) {
		<-release
		return outbound.CommandOutput{Succeeded: true}, nil
	}
	h.apply(model.Pod{Name: "a", Namespace: "ns1"})
	h.apply(model.Pod{Name: "b", Namespace: "ns2"})

	s1 := h.open(t, "s1")
	s2 := h.open(t, "s2")

	send(s1, map[string]any{"type": "execute_command", "command": "get pods", "namespace": "ns1"})
	send(s1, map[string]any{"type": "get_pods", "namespace": "ns1"})
	send(s2, map[string]any{"type": "get_pods", "namespace": "ns2"})

	// s1 is held behind its command; s2 is not.
	f := nextFrame(t, s2)
	require.Equal(t, "pods_response", f.Type)
	pods := decodeData[[]model.Pod](t, f)
	require.Len(t, pods, 1)
	assert.Equal(t, "b", pods[0].Name)
	nextFrame(t, s2)
	nextFrame(t, s2)
	expectSilence(t, s1, 50*time.Millisecond)

	h.apply(model.Pod{Name: "c", Namespace: "ns2"})
	assert.Equal(t, "pods_response", nextFrame(t, s2).Type)

	assert.Equal(t, 2, h.registry.Count())
}

func TestSession_CloseDropsPendingReply(t *testing.T) {
	h := newHarness(t, service.ExecutorConfig{})
	release := make(chan struct{})
	finished := make(chan struct{})
	h.cluster.run = func(ctx context.Context, _ outbound.CommandRequest) (outbound.CommandOutput, error) {
		<-release
		close(finished)
		return outbound.CommandOutput{Succeeded: true}, ctx.Err()
	}
	s := h.open(t, "s1")
	send(s, map[string]any{"type": "execute_command", "command": "scale deployment/web --replicas=2", "namespace": "ns1"})

	s.Close()
	_, ok := <-s.Outbound()
	assert.False(t, ok, "outbound must be closed")
	assert.Equal(t, model.SessionClosed, s.(*service.Session).State())
	assert.Equal(t, 0, h.registry.Count())

	// The cluster-side run is not cancelled by the close.
	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("command run did not finish")
	}
	require.Eventually(t, func() bool { return h.audit.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, model.AuditCommandSucceeded, h.audit.logs[0].EventType)

	// Messages after close are ignored.
	send(s, map[string]any{"type": "get_namespaces"})
	s.Close()
}
