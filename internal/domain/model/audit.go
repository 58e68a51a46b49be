package model

import "time"

// maxAuditOutput caps the command output kept in an audit record.
const maxAuditOutput = 4096

type AuditEventType string

const (
	AuditCommandSucceeded AuditEventType = "command.succeeded"
	AuditCommandFailed    AuditEventType = "command.failed"
)

// AuditLog is the persisted trace of a finished command invocation.
type AuditLog struct {
	ID           string            `json:"id"`
	EventType    AuditEventType    `json:"event_type"`
	InvocationID string            `json:"invocation_id"`
	SessionID    string            `json:"session_id"`
	Namespace    string            `json:"namespace"`
	Command      string            `json:"command"`
	ErrorKind    string            `json:"error_kind"`
	Message      string            `json:"message"`
	Output       string            `json:"output"`
	DurationMS   int64             `json:"duration_ms"`
	Metadata     map[string]string `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

func NewAuditLog(inv CommandInvocation, result CommandResult) AuditLog {
	eventType := AuditCommandSucceeded
	if !result.Success {
		eventType = AuditCommandFailed
	}
	output := result.Output
	if len(output) > maxAuditOutput {
		output = output[:maxAuditOutput]
	}
	return AuditLog{
		ID:           generateID("aud"),
		EventType:    eventType,
		InvocationID: inv.ID,
		SessionID:    inv.SessionID,
		Namespace:    inv.Namespace,
		Command:      inv.Command,
		ErrorKind:    result.ErrorKind,
		Message:      result.Message,
		Output:       output,
		DurationMS:   inv.Duration().Milliseconds(),
		Metadata:     make(map[string]string),
		CreatedAt:    time.Now().UTC(),
	}
}

func (a AuditLog) WithMetadata(key, value string) AuditLog {
	meta := make(map[string]string, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	meta[key] = value
	a.Metadata = meta
	return a
}
