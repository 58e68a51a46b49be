package model

import "time"

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSucceeded CommandStatus = "succeeded"
	CommandFailed    CommandStatus = "failed"
)

// CommandInvocation is one execute_command request. It lives until its result
// has been delivered to the session that submitted it.
type CommandInvocation struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Namespace  string        `json:"namespace"`
	Command    string        `json:"command"`
	Status     CommandStatus `json:"status"`
	Output     string        `json:"output"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at"`
}

func NewCommandInvocation(sessionID, namespace, command string) CommandInvocation {
	return CommandInvocation{
		ID:        generateID("cmd"),
		SessionID: sessionID,
		Namespace: namespace,
		Command:   command,
		Status:    CommandPending,
		StartedAt: time.Now().UTC(),
	}
}

// Complete returns a copy of c carrying the outcome of result.
func (c CommandInvocation) Complete(result CommandResult) CommandInvocation {
	now := time.Now().UTC()
	c.FinishedAt = &now
	c.Output = result.Output
	if result.Success {
		c.Status = CommandSucceeded
	} else {
		c.Status = CommandFailed
	}
	return c
}

func (c CommandInvocation) Duration() time.Duration {
	if c.FinishedAt == nil {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// CommandResult is the payload of a command_response.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Output  string `json:"output,omitempty"`
	// ErrorKind classifies a failure; empty on success.
	ErrorKind string `json:"error_kind,omitempty"`
}
