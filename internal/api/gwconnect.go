package api

import (
	"errors"
	"strings"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/hub"
)

// GatewayConnectHandler serves the gateway daemon surface: the WebSocket upgrade endpoint and the one-time bootstrap
// token redemption used by manual installs.
type GatewayConnectHandler struct {
	gateways      gateway.Repository
	registry      *hub.Registry
	rdb           *redis.Client
	salt          string
	publicBaseURL string
	log           zerolog.Logger
}

// NewGatewayConnectHandler creates a new gateway connect handler. salt is the hex-encoded gateway token MAC key.
func NewGatewayConnectHandler(gateways gateway.Repository, registry *hub.Registry, rdb *redis.Client, salt, publicBaseURL string, logger zerolog.Logger) *GatewayConnectHandler {
	return &GatewayConnectHandler{
		gateways:      gateways,
		registry:      registry,
		rdb:           rdb,
		salt:          salt,
		publicBaseURL: publicBaseURL,
		log:           logger,
	}
}

// Connect handles GET /gw/connect/{gateway_id}. The bearer token authenticates the gateway identity in the path; the
// hub then pins that identity against the hello payload. Every authentication failure looks identical to the caller.
func (h *GatewayConnectHandler) Connect(c fiber.Ctx) error {
	gatewayID := c.Params("gateway_id")

	token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if token == "" || token == c.Get(fiber.HeaderAuthorization) {
		return httputil.Fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	g, err := h.gateways.GetByID(c, gatewayID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if !auth.VerifyGatewayToken(token, g.AuthTokenHash, h.salt) {
		h.log.Warn().Str("gateway_id", gatewayID).Msg("Gateway presented an invalid token")
		return httputil.Fail(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	gwHub := h.registry.Get(g.ID)
	return websocket.New(func(conn *websocket.Conn) {
		gwHub.AttachGateway(conn.Conn)
	})(c)
}

type bootstrapRequest struct {
	Token string `json:"token"`
}

type bootstrapResponse struct {
	GatewayID    string `json:"gateway_id"`
	GatewayToken string `json:"gateway_token"`
	ConnectURL   string `json:"connect_url"`
}

// Bootstrap handles POST /gw/bootstrap: a freshly installed daemon trades its single-use bootstrap token for live
// credentials. Redemption rotates the stored token hash, so the plaintext shown at attach time is dead afterwards.
func (h *GatewayConnectHandler) Bootstrap(c fiber.Ctx) error {
	var body bootstrapRequest
	if err := c.Bind().Body(&body); err != nil || body.Token == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "token is required")
	}

	hostID, err := auth.ConsumeBootstrapToken(c, h.rdb, body.Token)
	if err != nil {
		if errors.Is(err, auth.ErrBootstrapTokenNotFound) {
			return httputil.Fail(c, fiber.StatusUnauthorized, "unauthorized")
		}
		h.log.Error().Err(err).Msg("Failed to consume bootstrap token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	g, err := h.gateways.GetByHost(c, hostID)
	if err != nil {
		h.log.Error().Err(err).Str("host_id", hostID).Msg("Bootstrap token points at a host without a gateway row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	token, tokenHash, err := auth.NewGatewayToken(h.salt)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mint gateway token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if err := h.gateways.UpdateTokenHash(c, g.ID, tokenHash); err != nil {
		h.log.Error().Err(err).Str("gateway_id", g.ID).Msg("Failed to rotate gateway token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	h.log.Info().Str("gateway_id", g.ID).Str("host_id", hostID).Msg("Bootstrap token redeemed")
	return httputil.Success(c, bootstrapResponse{
		GatewayID:    g.ID,
		GatewayToken: token,
		ConnectURL:   h.publicBaseURL + "/gw/connect/" + g.ID,
	})
}
