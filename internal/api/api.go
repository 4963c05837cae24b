// Package api is the HTTP and WebSocket surface of the control plane: sign-in, host and session management, SSH key
// distribution, file transfer, and the two upgrade endpoints that feed the relay hubs.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/hub"
	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

// Relay is the hub surface the HTTP handlers drive. *hub.Registry satisfies it; tests substitute a fake.
type Relay interface {
	Send(gatewayID string, envelope []byte) ([]byte, error)
	Notify(gatewayID string, data []byte)
	OpenTransfer(gatewayID, transferID string) (<-chan protocol.FileContentEvent, func(), error)
	ShutdownHub(gatewayID string)
}

// hostGuard resolves the {host_id} route parameter and enforces ownership. Handlers that operate on a host embed it.
type hostGuard struct {
	hosts host.Repository
	log   zerolog.Logger
}

// requireOwnedHost loads the addressed host and checks it belongs to the authenticated user. A host owned by someone
// else is reported exactly like a missing one, so the endpoint does not disclose which ids exist.
func (g hostGuard) requireOwnedHost(c fiber.Ctx) (*host.Host, error) {
	hst, err := g.hosts.GetByID(c, c.Params("host_id"))
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return nil, httputil.Fail(c, fiber.StatusNotFound, "not found")
		}
		g.log.Error().Err(err).Str("host_id", c.Params("host_id")).Msg("Failed to load host")
		return nil, httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if hst.UserID != auth.UserID(c) {
		return nil, httputil.Fail(c, fiber.StatusNotFound, "not found")
	}
	return hst, nil
}

// gatewayIDFor resolves the gateway identity serving a host. A host without a gateway row is broken metadata, not a
// caller mistake.
func gatewayIDFor(c fiber.Ctx, gateways gateway.Repository, hostID string, log zerolog.Logger) (string, error) {
	g, err := gateways.GetByHost(c, hostID)
	if err != nil {
		log.Error().Err(err).Str("host_id", hostID).Msg("Host has no gateway row")
		return "", httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return g.ID, nil
}

// mapCommandError converts a hub dispatch error to its HTTP response. Everything the gateway side can do wrong is a
// bad-gateway condition; only a malformed envelope is the caller's fault.
func mapCommandError(c fiber.Ctx, err error) error {
	if errors.Is(err, hub.ErrMissingRequestID) || errors.Is(err, hub.ErrDuplicateRequestID) {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	return httputil.Fail(c, fiber.StatusBadGateway, err.Error())
}

// sendJSONEvent writes a raw protocol event as the response body.
func sendJSONEvent(c fiber.Ctx, event []byte) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(event)
}
