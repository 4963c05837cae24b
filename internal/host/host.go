package host

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for the host package.
var (
	ErrNotFound      = errors.New("host not found")
	ErrNameLength    = errors.New("host name must be between 1 and 64 characters")
	ErrInvalidStatus = errors.New("invalid host status")
)

// Status is the lifecycle state of a host. Transitions are driven by provisioning, the gateway hello, the owner, and
// the reconciler; the database check constraint rejects anything outside this set.
type Status string

const (
	StatusProvisioning        Status = "provisioning"
	StatusActive              Status = "active"
	StatusOff                 Status = "off"
	StatusDeleting            Status = "deleting"
	StatusProvisioningTimeout Status = "provisioning_timeout"
)

// ValidStatus reports whether s is one of the persisted host states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusProvisioning, StatusActive, StatusOff, StatusDeleting, StatusProvisioningTimeout:
		return true
	}
	return false
}

// Host is a dev box owned by a user. DropletID is zero for manually attached machines and for cloud hosts whose
// droplet was never created.
type Host struct {
	ID        string
	UserID    string
	Name      string
	Status    Status
	Region    string
	Size      string
	DropletID int64
	IPv4      string
	Deadline  int64
	CreatedAt int64
	UpdatedAt int64
}

// ValidateName trims the name in place and checks its length.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	*name = strings.TrimSpace(*name)
	if n := utf8.RuneCountInString(*name); n < 1 || n > 64 {
		return ErrNameLength
	}
	return nil
}

// CreateParams holds the fields required to insert a host row.
type CreateParams struct {
	ID       string
	UserID   string
	Name     string
	Region   string
	Size     string
	Deadline int64
}

// Repository defines the data-access contract for host operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Host, error)
	GetByID(ctx context.Context, id string) (*Host, error)
	ListByUser(ctx context.Context, userID string) ([]Host, error)
	UpdateStatus(ctx context.Context, id string, to Status) error
	UpdateStatusFrom(ctx context.Context, id string, from, to Status) (bool, error)
	UpdateIPv4(ctx context.Context, id, ipv4 string) error
	UpdateDropletID(ctx context.Context, id string, dropletID int64) error
	DeleteCascade(ctx context.Context, id string) error
	ListTimedOutProvisioning(ctx context.Context, now int64) ([]Host, error)
	ListDeleting(ctx context.Context) ([]Host, error)
	ListMissingIPv4(ctx context.Context) ([]Host, error)
}
