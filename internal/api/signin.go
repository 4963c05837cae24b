package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
	"github.com/vibecode-sh/vibecode-server/internal/digitalocean"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/identity"
)

// oauthStateTTL bounds how long an authorization redirect may take before its state nonce expires.
const oauthStateTTL = 10 * time.Minute

// CredentialStore persists a linked provider's token pair. *digitalocean.TokenStore satisfies it.
type CredentialStore interface {
	Save(ctx context.Context, userID string, token *oauth2.Token) error
}

// AuthOptions carries the cookie and redirect settings for the sign-in flows.
type AuthOptions struct {
	CookieSecret  string
	CookieTTL     time.Duration
	SecureCookies bool
	PublicBaseURL string
}

// AuthHandler serves OAuth sign-in, the DigitalOcean account-connect flow, and session teardown.
type AuthHandler struct {
	providers  map[string]*auth.Provider
	identities identity.Repository
	doCfg      *oauth2.Config
	doCreds    CredentialStore
	rdb        *redis.Client
	opts       AuthOptions
	log        zerolog.Logger
}

// NewAuthHandler creates a new auth handler. Providers that are not configured are dropped; doCfg and doCreds may be
// nil when DigitalOcean OAuth is not configured.
func NewAuthHandler(providers []*auth.Provider, identities identity.Repository, doCfg *oauth2.Config, doCreds CredentialStore, rdb *redis.Client, opts AuthOptions, logger zerolog.Logger) *AuthHandler {
	byName := make(map[string]*auth.Provider)
	for _, p := range providers {
		if p.Configured() {
			byName[p.Name] = p
		}
	}
	return &AuthHandler{
		providers:  byName,
		identities: identities,
		doCfg:      doCfg,
		doCreds:    doCreds,
		rdb:        rdb,
		opts:       opts,
		log:        logger,
	}
}

// Signin handles GET /auth/signin/{provider}: mint a state nonce and redirect to the provider's consent page.
func (h *AuthHandler) Signin(c fiber.Ctx) error {
	p, ok := h.providers[c.Params("provider")]
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, "unknown provider")
	}

	state, err := auth.CreateOAuthState(c, h.rdb, p.Name, oauthStateTTL)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create oauth state")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return c.Redirect().Status(fiber.StatusTemporaryRedirect).To(p.Config.AuthCodeURL(state))
}

// Callback handles GET /auth/callback/{provider}: consume the state nonce, resolve the asserted identity to a user,
// and establish the session cookie. An identity that maps to two different existing accounts is refused, not merged.
func (h *AuthHandler) Callback(c fiber.Ctx) error {
	p, ok := h.providers[c.Params("provider")]
	if !ok {
		return httputil.Fail(c, fiber.StatusNotFound, "unknown provider")
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "code and state are required")
	}

	issuedFor, err := auth.ConsumeOAuthState(c, h.rdb, state)
	if err != nil || issuedFor != p.Name {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid state")
	}

	ident, err := p.FetchIdentity(c, code)
	if err != nil {
		h.log.Warn().Err(err).Str("provider", p.Name).Msg("Identity fetch failed")
		return httputil.Fail(c, fiber.StatusBadGateway, "sign-in failed")
	}

	user, err := h.identities.Resolve(c, identity.ResolveParams{
		Provider:       ident.Provider,
		ProviderUserID: ident.ProviderUserID,
		Email:          ident.Email,
		DisplayName:    ident.DisplayName,
	})
	if err != nil {
		if errors.Is(err, identity.ErrIdentityConflict) {
			return httputil.Fail(c, fiber.StatusConflict, "identity conflict")
		}
		h.log.Error().Err(err).Str("provider", p.Name).Msg("Identity resolution failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	token, err := auth.NewSessionToken(user.ID, h.opts.CookieSecret, h.opts.CookieTTL)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to mint session token")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	h.setSessionCookie(c, token, h.opts.CookieTTL)

	h.log.Info().Str("user_id", user.ID).Str("provider", p.Name).Msg("User signed in")
	return c.Redirect().Status(fiber.StatusTemporaryRedirect).To(h.opts.PublicBaseURL)
}

// doStatePayload binds a connect-flow state nonce to the signed-in user. The nonce value doubles as the provider slot,
// so the payload self-describes which flow minted it.
func doStatePayload(userID string) string {
	return digitalocean.ProviderName + ":" + userID
}

// ConnectDigitalOcean handles GET /auth/connect/digitalocean (authenticated): start the account-link consent flow.
func (h *AuthHandler) ConnectDigitalOcean(c fiber.Ctx) error {
	if h.doCfg == nil || h.doCreds == nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "digitalocean is not configured")
	}

	state, err := auth.CreateOAuthState(c, h.rdb, doStatePayload(auth.UserID(c)), oauthStateTTL)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create oauth state")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return c.Redirect().Status(fiber.StatusTemporaryRedirect).To(h.doCfg.AuthCodeURL(state))
}

// ConnectDigitalOceanCallback handles GET /auth/callback/connect/digitalocean. The user identity rides in the consumed
// state payload rather than the cookie, because some providers strip cookies across the redirect chain.
func (h *AuthHandler) ConnectDigitalOceanCallback(c fiber.Ctx) error {
	if h.doCfg == nil || h.doCreds == nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "digitalocean is not configured")
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "code and state are required")
	}

	payload, err := auth.ConsumeOAuthState(c, h.rdb, state)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid state")
	}
	userID, ok := strings.CutPrefix(payload, digitalocean.ProviderName+":")
	if !ok || userID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid state")
	}

	token, err := h.doCfg.Exchange(c, code)
	if err != nil {
		h.log.Warn().Err(err).Msg("DigitalOcean code exchange failed")
		return httputil.Fail(c, fiber.StatusBadGateway, "account connect failed")
	}
	if err := h.doCreds.Save(c, userID, token); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to store provider credentials")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}

	h.log.Info().Str("user_id", userID).Msg("DigitalOcean account connected")
	return c.Redirect().Status(fiber.StatusTemporaryRedirect).To(h.opts.PublicBaseURL)
}

// Me handles GET /auth/me (authenticated).
func (h *AuthHandler) Me(c fiber.Ctx) error {
	user, err := h.identities.GetUser(c, auth.UserID(c))
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, "not found")
		}
		h.log.Error().Err(err).Msg("Failed to load user")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	return httputil.Success(c, fiber.Map{
		"id":           user.ID,
		"display_name": user.DisplayName,
		"created_at":   user.CreatedAt,
	})
}

// Logout handles DELETE /auth/session: expire the session cookie. The JWT itself stays valid until its expiry; the
// short TTL is the revocation story.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	h.setSessionCookie(c, "", -time.Hour)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) setSessionCookie(c fiber.Ctx, value string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HTTPOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
