package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/credential"
	"github.com/vibecode-sh/vibecode-server/internal/digitalocean"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/ids"
)

// Provider is the droplet lifecycle surface the host handler drives.
type Provider interface {
	CreateDroplet(ctx context.Context, token string, params digitalocean.CreateDropletParams) (*digitalocean.Droplet, error)
	DeleteDroplet(ctx context.Context, token string, id int64) error
}

// TokenSource resolves a user's plaintext provider access token.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// ProvisionOptions carries the droplet shape and gateway bootstrap settings for new hosts.
type ProvisionOptions struct {
	Region        string
	Size          string
	Image         string
	Timeout       time.Duration
	PublicBaseURL string
	DownloadURL   string
	BootstrapTTL  time.Duration
}

// HostHandler serves host CRUD: cloud provisioning, manual attach, and two-phase deletion.
type HostHandler struct {
	hostGuard
	gateways gateway.Repository
	relay    Relay
	provider Provider
	tokens   TokenSource
	rdb      *redis.Client
	salt     string
	opts     ProvisionOptions
}

// NewHostHandler creates a new host handler. provider and tokens may be nil when DigitalOcean is not configured;
// provisioning then reports the provider as unavailable while manual attach keeps working.
func NewHostHandler(hosts host.Repository, gateways gateway.Repository, relay Relay, provider Provider, tokens TokenSource, rdb *redis.Client, salt string, opts ProvisionOptions, logger zerolog.Logger) *HostHandler {
	return &HostHandler{
		hostGuard: hostGuard{hosts: hosts, log: logger},
		gateways:  gateways,
		relay:     relay,
		provider:  provider,
		tokens:    tokens,
		rdb:       rdb,
		salt:      salt,
		opts:      opts,
	}
}

type hostResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Region    string `json:"region"`
	Size      string `json:"size"`
	IPv4      string `json:"ipv4,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func toHostResponse(h *host.Host) hostResponse {
	return hostResponse{
		ID:        h.ID,
		Name:      h.Name,
		Status:    string(h.Status),
		Region:    h.Region,
		Size:      h.Size,
		IPv4:      h.IPv4,
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
}

type createHostRequest struct {
	Name   string `json:"name"`
	Region string `json:"region"`
	Size   string `json:"size"`
}

// Create handles POST /hosts: provision a droplet carrying a freshly minted gateway identity. The metadata rows are
// written first so a crash mid-provision leaves a record the reconciler can expire.
func (h *HostHandler) Create(c fiber.Ctx) error {
	if h.provider == nil || h.tokens == nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "digitalocean is not configured")
	}

	var body createHostRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := host.ValidateName(&body.Name); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	userID := auth.UserID(c)
	providerToken, err := h.tokens.Token(c, userID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusBadRequest, "digitalocean account not connected")
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to resolve provider token")
		return httputil.Fail(c, fiber.StatusBadGateway, "provider token unavailable")
	}

	region, size := body.Region, body.Size
	if region == "" {
		region = h.opts.Region
	}
	if size == "" {
		size = h.opts.Size
	}

	hostID := ids.NewHostID()
	gatewayID := ids.NewGatewayID()
	gatewayToken, tokenHash, err := auth.NewGatewayToken(h.salt)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mint gateway token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	hst, err := h.hosts.Create(c, host.CreateParams{
		ID:       hostID,
		UserID:   userID,
		Name:     body.Name,
		Region:   region,
		Size:     size,
		Deadline: time.Now().Add(h.opts.Timeout).Unix(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create host row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.gateways.Create(c, gateway.CreateParams{ID: gatewayID, HostID: hostID, AuthTokenHash: tokenHash}); err != nil {
		h.rollbackHost(c, hostID)
		h.log.Error().Err(err).Msg("Failed to create gateway row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	userData, err := digitalocean.UserData(gatewayID, gatewayToken, h.opts.PublicBaseURL, h.opts.DownloadURL)
	if err != nil {
		h.rollbackHost(c, hostID)
		h.log.Error().Err(err).Msg("Failed to render cloud-init")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	droplet, err := h.provider.CreateDroplet(c, providerToken, digitalocean.CreateDropletParams{
		Name:     hostID,
		Region:   region,
		Size:     size,
		Image:    h.opts.Image,
		UserData: userData,
		Tags:     []string{"vibecode"},
	})
	if err != nil {
		h.rollbackHost(c, hostID)
		h.log.Error().Err(err).Str("host_id", hostID).Msg("Droplet creation failed")
		return httputil.Fail(c, fiber.StatusBadGateway, "provider request failed")
	}

	if err := h.hosts.UpdateDropletID(c, hostID, droplet.ID); err != nil {
		h.log.Error().Err(err).Str("host_id", hostID).Msg("Failed to record droplet id")
	}
	if droplet.PublicIPv4 != "" {
		if err := h.hosts.UpdateIPv4(c, hostID, droplet.PublicIPv4); err != nil {
			h.log.Error().Err(err).Str("host_id", hostID).Msg("Failed to record droplet address")
		}
	}

	h.log.Info().Str("host_id", hostID).Str("user_id", userID).Int64("droplet_id", droplet.ID).Msg("Host provisioning started")
	return httputil.SuccessStatus(c, fiber.StatusCreated, toHostResponse(hst))
}

// rollbackHost best-effort removes the metadata written before a failed provision. Failure here just leaves a
// provisioning row for the reconciler to expire.
func (h *HostHandler) rollbackHost(ctx context.Context, hostID string) {
	if err := h.hosts.DeleteCascade(ctx, hostID); err != nil {
		h.log.Warn().Err(err).Str("host_id", hostID).Msg("Provision rollback failed, reconciler will expire the row")
	}
}

// List handles GET /hosts.
func (h *HostHandler) List(c fiber.Ctx) error {
	hosts, err := h.hosts.ListByUser(c, auth.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list hosts")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	out := make([]hostResponse, 0, len(hosts))
	for i := range hosts {
		out = append(out, toHostResponse(&hosts[i]))
	}
	return httputil.Success(c, out)
}

// Get handles GET /hosts/{host_id}.
func (h *HostHandler) Get(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	return httputil.Success(c, toHostResponse(hst))
}

// Delete handles DELETE /hosts/{host_id}. Cloud first: the droplet must be confirmed gone before any metadata row is
// dropped. On provider failure the host stays in deleting and the reconciler retries; the 502 tells the caller so.
func (h *HostHandler) Delete(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}

	if err := h.hosts.UpdateStatus(c, hst.ID, host.StatusDeleting); err != nil {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to mark host deleting")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	// Sever live connections before touching the cloud so no terminal keeps streaming from a dying box.
	if g, err := h.gateways.GetByHost(c, hst.ID); err == nil {
		h.relay.ShutdownHub(g.ID)
	}

	if hst.DropletID > 0 {
		if h.provider == nil || h.tokens == nil {
			return httputil.Fail(c, fiber.StatusBadGateway, "deletion scheduled, provider unavailable, will retry")
		}
		providerToken, err := h.tokens.Token(c, hst.UserID)
		if err != nil {
			h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to resolve provider token for deletion")
			return httputil.Fail(c, fiber.StatusBadGateway, "deletion scheduled, will retry")
		}
		if err := h.provider.DeleteDroplet(c, providerToken, hst.DropletID); err != nil {
			h.log.Error().Err(err).Str("host_id", hst.ID).Int64("droplet_id", hst.DropletID).
				Msg("Droplet destruction failed, deletion deferred to reconciler")
			return httputil.Fail(c, fiber.StatusBadGateway, "deletion scheduled, will retry")
		}
	}

	if err := h.hosts.DeleteCascade(c, hst.ID); err != nil {
		h.log.Error().Err(err).Str("host_id", hst.ID).Msg("Failed to cascade-delete host rows")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	h.log.Info().Str("host_id", hst.ID).Msg("Host deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

type attachHostRequest struct {
	Name string `json:"name"`
}

type attachHostResponse struct {
	Host           hostResponse `json:"host"`
	GatewayID      string       `json:"gateway_id"`
	GatewayToken   string       `json:"gateway_token"`
	BootstrapToken string       `json:"bootstrap_token"`
	ConnectURL     string       `json:"connect_url"`
}

// Attach handles POST /hosts/attach: register a machine the user already owns. The response is the only time the
// plaintext gateway token is ever visible; the server keeps just its hash.
func (h *HostHandler) Attach(c fiber.Ctx) error {
	var body attachHostRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := host.ValidateName(&body.Name); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	userID := auth.UserID(c)
	hostID := ids.NewHostID()
	gatewayID := ids.NewGatewayID()
	gatewayToken, tokenHash, err := auth.NewGatewayToken(h.salt)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mint gateway token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	hst, err := h.hosts.Create(c, host.CreateParams{
		ID:       hostID,
		UserID:   userID,
		Name:     body.Name,
		Deadline: time.Now().Add(h.opts.Timeout).Unix(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create host row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.gateways.Create(c, gateway.CreateParams{ID: gatewayID, HostID: hostID, AuthTokenHash: tokenHash}); err != nil {
		h.rollbackHost(c, hostID)
		h.log.Error().Err(err).Msg("Failed to create gateway row")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	bootstrapToken, err := auth.CreateBootstrapToken(c, h.rdb, hostID, h.opts.BootstrapTTL)
	if err != nil {
		h.rollbackHost(c, hostID)
		h.log.Error().Err(err).Msg("Failed to mint bootstrap token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	h.log.Info().Str("host_id", hostID).Str("user_id", userID).Msg("Manual host attached")
	return httputil.SuccessStatus(c, fiber.StatusCreated, attachHostResponse{
		Host:           toHostResponse(hst),
		GatewayID:      gatewayID,
		GatewayToken:   gatewayToken,
		BootstrapToken: bootstrapToken,
		ConnectURL:     h.opts.PublicBaseURL + "/gw/connect/" + gatewayID,
	})
}
