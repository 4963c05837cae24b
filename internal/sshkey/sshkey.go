package sshkey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Sentinel errors for the sshkey package.
var (
	ErrNotFound   = errors.New("authorized key not found")
	ErrInvalidKey = errors.New("invalid public key")
)

// Key kinds. User keys are installed by the host owner; support keys by operator tooling for assisted debugging.
const (
	KindUser    = "user"
	KindSupport = "support"
)

// Key is a public key authorized to reach a host over SSH. The gateway holds the live authorized_keys file; these
// rows mirror it so the control plane can list and revoke without a round trip.
type Key struct {
	HostID      string
	Fingerprint string
	PublicKey   string
	Kind        string
	Label       string
	ExpiresAt   int64
	CreatedAt   int64
}

// ParsePublicKey validates an OpenSSH authorized-keys line and returns its canonical form and SHA256 fingerprint.
// Options and trailing comments are dropped; the canonical form is "type base64data".
func ParsePublicKey(raw string) (canonical, fingerprint string, err error) {
	pub, _, _, _, parseErr := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(raw)))
	if parseErr != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, parseErr)
	}

	canonical = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	fingerprint = ssh.FingerprintSHA256(pub)
	return canonical, fingerprint, nil
}

// UpsertParams holds the fields required to record an authorized key. An empty Kind defaults to KindUser.
type UpsertParams struct {
	HostID      string
	Fingerprint string
	PublicKey   string
	Kind        string
	Label       string
	ExpiresAt   int64
}

// Repository defines the data-access contract for authorized key operations.
type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) (*Key, error)
	Delete(ctx context.Context, hostID, fingerprint string) error
	ListByHost(ctx context.Context, hostID string) ([]Key, error)
}
