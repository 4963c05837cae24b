package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/ids"
	"github.com/vibecode-sh/vibecode-server/internal/protocol"
	"github.com/vibecode-sh/vibecode-server/internal/sshkey"
)

// SSHKeyHandler serves authorized-key distribution under /hosts/{host_id}/ssh-keys. The gateway owns the live
// authorized_keys file; the control plane mirrors it and pushes changes over the relay.
type SSHKeyHandler struct {
	hostGuard
	keys     sshkey.Repository
	gateways gateway.Repository
	relay    Relay
}

// NewSSHKeyHandler creates a new SSH key handler.
func NewSSHKeyHandler(hosts host.Repository, keys sshkey.Repository, gateways gateway.Repository, relay Relay, logger zerolog.Logger) *SSHKeyHandler {
	return &SSHKeyHandler{
		hostGuard: hostGuard{hosts: hosts, log: logger},
		keys:      keys,
		gateways:  gateways,
		relay:     relay,
	}
}

type keyResponse struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"public_key"`
	Kind        string `json:"kind"`
	Label       string `json:"label,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func toKeyResponse(k *sshkey.Key) keyResponse {
	return keyResponse{
		Fingerprint: k.Fingerprint,
		PublicKey:   k.PublicKey,
		Kind:        k.Kind,
		Label:       k.Label,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
	}
}

type authorizeKeyRequest struct {
	PublicKey string `json:"public_key"`
	Label     string `json:"label"`
	ExpiresAt int64  `json:"expires_at"`
}

// Authorize handles POST /hosts/{host_id}/ssh-keys: install a key on the host. Gateway first, mirror second, so the
// mirror never lists a key the host might not have.
func (h *SSHKeyHandler) Authorize(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	var body authorizeKeyRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	canonical, fingerprint, err := sshkey.ParsePublicKey(body.PublicKey)
	if err != nil {
		if errors.Is(err, sshkey.ErrInvalidKey) {
			return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
		}
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	cmd, err := json.Marshal(protocol.SSHAuthorizeCommand{
		Type:          protocol.TypeSSHAuthorize,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("ssh"),
		PublicKey:     canonical,
		Label:         body.Label,
		ExpiresAt:     body.ExpiresAt,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.relay.Send(gatewayID, cmd); err != nil {
		return mapCommandError(c, err)
	}

	key, err := h.keys.Upsert(c, sshkey.UpsertParams{
		HostID:      hst.ID,
		Fingerprint: fingerprint,
		PublicKey:   canonical,
		Kind:        sshkey.KindUser,
		Label:       body.Label,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to mirror authorized key")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toKeyResponse(key))
}

// List handles GET /hosts/{host_id}/ssh-keys from the mirror, without a gateway round trip.
func (h *SSHKeyHandler) List(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	keys, err := h.keys.ListByHost(c, hst.ID)
	if err != nil {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to list authorized keys")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	out := make([]keyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, toKeyResponse(&keys[i]))
	}
	return httputil.Success(c, out)
}

// ListLive handles GET /hosts/{host_id}/ssh-keys/live: the keys actually installed on the host right now, as reported
// by the gateway's ssh.keys reply.
func (h *SSHKeyHandler) ListLive(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	cmd, err := json.Marshal(protocol.SSHListCommand{
		Type:          protocol.TypeSSHList,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("ssh"),
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	event, err := h.relay.Send(gatewayID, cmd)
	if err != nil {
		return mapCommandError(c, err)
	}
	return sendJSONEvent(c, event)
}

type revokeKeyRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// Revoke handles DELETE /hosts/{host_id}/ssh-keys. The fingerprint travels in the body because SHA256 fingerprints
// contain path-hostile characters.
func (h *SSHKeyHandler) Revoke(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	var body revokeKeyRequest
	if err := c.Bind().Body(&body); err != nil || body.Fingerprint == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "fingerprint is required")
	}

	cmd, err := json.Marshal(protocol.SSHRevokeCommand{
		Type:          protocol.TypeSSHRevoke,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("ssh"),
		Fingerprint:   body.Fingerprint,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.relay.Send(gatewayID, cmd); err != nil {
		return mapCommandError(c, err)
	}

	if err := h.keys.Delete(c, hst.ID, body.Fingerprint); err != nil && !errors.Is(err, sshkey.ErrNotFound) {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to drop authorized key mirror row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
