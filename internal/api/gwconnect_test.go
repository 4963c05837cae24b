package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/vibecode-sh/vibecode-server/internal/auth"
)

func TestGatewayConnectRejectsBadCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// No Authorization header at all.
	req := httptest.NewRequest(http.MethodGet, "/gw/connect/"+testGw, nil)
	resp, err := env.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without bearer", resp.StatusCode)
	}

	// Wrong token for a known gateway, and any token for an unknown one, look identical.
	req = httptest.NewRequest(http.MethodGet, "/gw/connect/"+testGw, nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = env.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with a bad token", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/gw/connect/gw-ghost", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err = env.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for an unknown gateway", resp.StatusCode)
	}
}

func TestBootstrapRedeemRotatesToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	token, err := auth.CreateBootstrapToken(t.Context(), env.rdb, testHost, time.Minute)
	if err != nil {
		t.Fatalf("create bootstrap token: %v", err)
	}

	resp, raw := env.request(t, http.MethodPost, "/gw/bootstrap", "", map[string]string{"token": token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, raw)
	}
	var body bootstrapResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.GatewayID != testGw || body.GatewayToken == "" {
		t.Fatalf("bootstrap response = %+v, want credentials for %s", body, testGw)
	}

	g, err := env.gateways.GetByID(t.Context(), testGw)
	if err != nil {
		t.Fatalf("load gateway: %v", err)
	}
	if !auth.VerifyGatewayToken(body.GatewayToken, g.AuthTokenHash, testSalt) {
		t.Fatal("minted token does not verify against the rotated hash")
	}

	// Single use.
	resp, _ = env.request(t, http.MethodPost, "/gw/bootstrap", "", map[string]string{"token": token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second redeem status = %d, want 401", resp.StatusCode)
	}
}

func TestBootstrapRejectsUnknownToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/gw/bootstrap", "", map[string]string{"token": "never-issued"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
