package session

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for the session package.
var (
	ErrNotFound      = errors.New("session not found")
	ErrTitleLength   = errors.New("session title must be at most 128 characters")
	ErrInvalidStatus = errors.New("invalid session status")
)

// DefaultWorkdir is where sessions start when the caller does not pick a directory.
const DefaultWorkdir = "/home/vibe"

// Status is the lifecycle state of a terminal session as reported by the gateway.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusEnded    Status = "ended"
	StatusError    Status = "error"
)

// ValidStatus reports whether s is one of the persisted session states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusStarting, StatusRunning, StatusEnded, StatusError:
		return true
	}
	return false
}

// Session is a PTY running on a host under an agent. UserID records the host owner at creation time so session rows
// stay attributable even after the host changes hands.
type Session struct {
	ID             string
	HostID         string
	UserID         string
	Title          string
	AgentType      string
	Workdir        string
	Status         Status
	CreatedAt      int64
	LastActivityAt int64
}

// ValidateTitle trims the title in place and checks its length. An empty title is allowed.
func ValidateTitle(title *string) error {
	if title == nil {
		return nil
	}
	*title = strings.TrimSpace(*title)
	if utf8.RuneCountInString(*title) > 128 {
		return ErrTitleLength
	}
	return nil
}

// CreateParams holds the fields required to insert a session row.
type CreateParams struct {
	ID        string
	HostID    string
	UserID    string
	Title     string
	AgentType string
	Workdir   string
}

// Repository defines the data-access contract for session operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)
	ListByHost(ctx context.Context, hostID string) ([]Session, error)
	UpdateStatus(ctx context.Context, id string, to Status) error
	TouchActivity(ctx context.Context, id string, at int64) error
	EndAllForHost(ctx context.Context, hostID string) error
}
