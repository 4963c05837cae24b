package digitalocean

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, zerolog.Nop())
}

func TestCreateDroplet(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/droplets" {
			t.Errorf("request = %s %s, want POST /v2/droplets", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer do-token" {
			t.Errorf("authorization = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body["name"] != "vps-1" || body["region"] != "sfo3" {
			t.Errorf("body = %v", body)
		}
		if ud, _ := body["user_data"].(string); !strings.Contains(ud, "gw-1") {
			t.Error("user_data must carry the gateway credentials")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"droplet":{"id":12345,"status":"new","networks":{"v4":[]}}}`))
	})

	d, err := c.CreateDroplet(context.Background(), "do-token", CreateDropletParams{
		Name:     "vps-1",
		Region:   "sfo3",
		Size:     "s-2vcpu-4gb",
		Image:    "ubuntu-24-04-x64",
		UserData: "#cloud-config gw-1",
		Tags:     []string{"vibecode"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != 12345 {
		t.Fatalf("droplet id = %d, want 12345", d.ID)
	}
	if d.PublicIPv4 != "" {
		t.Fatalf("fresh droplet ipv4 = %q, want empty", d.PublicIPv4)
	}
}

func TestGetDropletExtractsPublicIPv4(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/droplets/777" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"droplet":{"id":777,"status":"active","networks":{"v4":[
			{"ip_address":"10.0.0.5","type":"private"},
			{"ip_address":"203.0.113.9","type":"public"}
		]}}}`))
	})

	d, err := c.GetDroplet(context.Background(), "do-token", 777)
	if err != nil {
		t.Fatal(err)
	}
	if d.PublicIPv4 != "203.0.113.9" {
		t.Fatalf("ipv4 = %q, want the public address", d.PublicIPv4)
	}
	if d.Status != "active" {
		t.Fatalf("status = %q", d.Status)
	}
}

func TestDeleteDropletNotFoundIsSuccess(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"id":"not_found","message":"The resource you requested could not be found."}`))
	})

	if err := c.DeleteDroplet(context.Background(), "do-token", 42); err != nil {
		t.Fatalf("delete of a missing droplet = %v, want nil", err)
	}
}

func TestDeleteDropletFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"id":"server_error","message":"something broke"}`))
	})

	err := c.DeleteDroplet(context.Background(), "do-token", 42)
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if !strings.Contains(err.Error(), "something broke") {
		t.Fatalf("error %q must carry the provider message", err)
	}
}

func TestUnauthorizedWrapsProviderFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"id":"unauthorized","message":"Unable to authenticate you"}`))
	})

	if _, err := c.GetDroplet(context.Background(), "stale", 1); !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
}

func TestUserData(t *testing.T) {
	t.Parallel()
	out, err := UserData("gw-abc", "secret-token", "https://app.vibecode.sh", "https://get.vibecode.sh/gateway")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "#cloud-config") {
		t.Fatal("user data must be a cloud-config document")
	}
	for _, want := range []string{
		"GATEWAY_ID=gw-abc",
		"GATEWAY_TOKEN=secret-token",
		"SERVER_URL=https://app.vibecode.sh",
		"https://get.vibecode.sh/gateway",
		"vibecode-gateway.service",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("user data missing %q", want)
		}
	}
}
