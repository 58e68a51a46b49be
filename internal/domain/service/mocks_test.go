package service_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/inbound"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fake cluster ---

type fakeCluster struct {
	mu         sync.Mutex
	namespaces []model.Namespace
	listErr    error
	// watchFailures is how many Watch calls fail before streams are handed out.
	watchFailures int
	watchCalls    map[model.Kind]int
	streams       map[model.Kind]chan model.ChangeEvent
	run           func(ctx context.Context, req outbound.CommandRequest) (outbound.CommandOutput, error)
	requests      []outbound.CommandRequest
}

func newFakeCluster() *fakeCluster {
	streams := make(map[model.Kind]chan model.ChangeEvent)
	for _, k := range model.Kinds {
		streams[k] = make(chan model.ChangeEvent, 16)
	}
	return &fakeCluster{
		watchCalls: make(map[model.Kind]int),
		streams:    streams,
		run: func(_ context.Context, req outbound.CommandRequest) (outbound.CommandOutput, error) {
			return outbound.CommandOutput{Output: "ok", Succeeded: true}, nil
		},
	}
}

func (f *fakeCluster) ListNamespaces(_ context.Context) ([]model.Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Namespace(nil), f.namespaces...), nil
}

func (f *fakeCluster) Watch(_ context.Context, kind model.Kind, _ string) (<-chan model.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls[kind]++
	if f.watchCalls[kind] <= f.watchFailures {
		return nil, context.DeadlineExceeded
	}
	return f.streams[kind], nil
}

func (f *fakeCluster) RunCommand(ctx context.Context, req outbound.CommandRequest) (outbound.CommandOutput, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	run := f.run
	f.mu.Unlock()
	return run(ctx, req)
}

func (f *fakeCluster) HealthCheck(_ context.Context) error { return nil }

func (f *fakeCluster) calls(kind model.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCalls[kind]
}

var _ outbound.ClusterClient = (*fakeCluster)(nil)

// --- audit and notifier ---

type mockAuditRepo struct {
	mu   sync.Mutex
	logs []model.AuditLog
}

func (r *mockAuditRepo) Create(_ context.Context, log model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *mockAuditRepo) List(_ context.Context, _ outbound.AuditFilter, _ outbound.PageRequest) (outbound.PageResult[model.AuditLog], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return outbound.PageResult[model.AuditLog]{Items: r.logs, TotalCount: int64(len(r.logs))}, nil
}

func (r *mockAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

var _ outbound.AuditRepository = (*mockAuditRepo)(nil)

type mockNotifier struct {
	mu      sync.Mutex
	results []model.CommandResult
}

func (n *mockNotifier) NotifyCommand(_ context.Context, _ model.CommandInvocation, result model.CommandResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}

var _ outbound.Notifier = (*mockNotifier)(nil)

// --- session helpers ---

type frame struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

func nextFrame(t *testing.T, s inbound.Session) frame {
	t.Helper()
	select {
	case raw, ok := <-s.Outbound():
		require.True(t, ok, "outbound closed")
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return frame{}
}

func expectSilence(t *testing.T, s inbound.Session, d time.Duration) {
	t.Helper()
	select {
	case raw := <-s.Outbound():
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(d):
	}
}

func send(s inbound.Session, v map[string]any) {
	raw, _ := json.Marshal(v)
	s.HandleMessage(raw)
}
