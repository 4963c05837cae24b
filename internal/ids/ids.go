// Package ids mints the prefixed identifiers used across the control plane. The prefix makes ids self-describing in
// logs and URLs; the remainder is a random UUID without dashes.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes for each entity kind.
const (
	UserPrefix     = "usr-"
	HostPrefix     = "vps-"
	GatewayPrefix  = "gw-"
	SessionPrefix  = "ses-"
	TransferPrefix = "tr-"
)

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewUserID returns a fresh user id.
func NewUserID() string { return newID(UserPrefix) }

// NewHostID returns a fresh host id.
func NewHostID() string { return newID(HostPrefix) }

// NewGatewayID returns a fresh gateway id.
func NewGatewayID() string { return newID(GatewayPrefix) }

// NewSessionID returns a fresh session id.
func NewSessionID() string { return newID(SessionPrefix) }

// NewTransferID returns a fresh file transfer id.
func NewTransferID() string { return newID(TransferPrefix) }

// NewRequestID returns a fresh correlation id for an ack-tracked command. The optional tag prefixes the id so the
// originating flow is visible in gateway logs.
func NewRequestID(tag string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if tag == "" {
		return id
	}
	return tag + "-" + id
}
