package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/vibecode-sh/vibecode-server/internal/credential"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
)

func TestHostProvision(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, raw := env.request(t, http.MethodPost, "/hosts", testUser, map[string]string{"name": "box2"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, raw)
	}
	var body hostResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Status != string(host.StatusProvisioning) {
		t.Fatalf("status = %q, want provisioning", body.Status)
	}
	if body.Region != "sfo3" || body.Size != "s-2vcpu-4gb" {
		t.Fatalf("shape = %s/%s, want configured defaults", body.Region, body.Size)
	}

	env.provider.mu.Lock()
	if len(env.provider.created) != 1 {
		env.provider.mu.Unlock()
		t.Fatalf("droplets created = %d, want 1", len(env.provider.created))
	}
	params := env.provider.created[0]
	env.provider.mu.Unlock()

	if params.Name != body.ID {
		t.Fatalf("droplet name = %q, want host id %q", params.Name, body.ID)
	}
	if !strings.Contains(params.UserData, "GATEWAY_ID=gw-") || !strings.Contains(params.UserData, "GATEWAY_TOKEN=") {
		t.Fatalf("user data is missing gateway credentials:\n%s", params.UserData)
	}

	stored := env.hosts.get(body.ID)
	if stored == nil {
		t.Fatal("host row missing after provision")
	}
	if stored.DropletID != 101 || stored.IPv4 != "203.0.113.9" {
		t.Fatalf("stored droplet = %d/%s, want 101/203.0.113.9", stored.DropletID, stored.IPv4)
	}
	if _, err := env.gateways.GetByHost(t.Context(), body.ID); err != nil {
		t.Fatalf("gateway row missing after provision: %v", err)
	}
}

func TestHostProvisionRequiresLinkedAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.tokens.err = credential.ErrNotFound

	resp, raw := env.request(t, http.MethodPost, "/hosts", testUser, map[string]string{"name": "box2"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", resp.StatusCode, raw)
	}
}

func TestHostProvisionRollsBackOnProviderFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.provider.createErr = errors.New("no droplet capacity")

	resp, _ := env.request(t, http.MethodPost, "/hosts", testUser, map[string]string{"name": "box2"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if got := env.hosts.cascades(); len(got) != 1 {
		t.Fatalf("cascades = %v, want the provisional row removed", got)
	}
	hosts, _ := env.hosts.ListByUser(t.Context(), testUser)
	if len(hosts) != 1 || hosts[0].ID != testHost {
		t.Fatalf("hosts after rollback = %+v, want only the seeded one", hosts)
	}
}

func TestHostDeleteDestroysDropletFirst(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodDelete, "/hosts/"+testHost, testUser, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	env.relay.mu.Lock()
	shutdowns := append([]string(nil), env.relay.shutdowns...)
	env.relay.mu.Unlock()
	if len(shutdowns) != 1 || shutdowns[0] != testGw {
		t.Fatalf("hub shutdowns = %v, want [%s]", shutdowns, testGw)
	}

	env.provider.mu.Lock()
	deleted := append([]int64(nil), env.provider.deleted...)
	env.provider.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != 101 {
		t.Fatalf("droplets deleted = %v, want [101]", deleted)
	}
	if got := env.hosts.cascades(); len(got) != 1 || got[0] != testHost {
		t.Fatalf("cascades = %v, want [%s]", got, testHost)
	}
}

func TestHostDeleteRetainsRowsOnProviderFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.provider.deleteErr = errors.New("rate limited")

	resp, _ := env.request(t, http.MethodDelete, "/hosts/"+testHost, testUser, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	stored := env.hosts.get(testHost)
	if stored == nil {
		t.Fatal("host row dropped despite provider failure")
	}
	if stored.Status != host.StatusDeleting {
		t.Fatalf("status = %q, want deleting for the reconciler to retry", stored.Status)
	}
	if got := env.hosts.cascades(); len(got) != 0 {
		t.Fatalf("cascades = %v, want none", got)
	}
}

func TestHostDeleteManualSkipsCloud(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.hosts.add(&host.Host{ID: "vps-manual", UserID: testUser, Name: "laptop", Status: host.StatusActive})
	env.gateways.add(&gateway.Gateway{ID: "gw-manual", HostID: "vps-manual"})

	resp, _ := env.request(t, http.MethodDelete, "/hosts/vps-manual", testUser, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	env.provider.mu.Lock()
	deleted := len(env.provider.deleted)
	env.provider.mu.Unlock()
	if deleted != 0 {
		t.Fatalf("provider delete calls = %d, want 0 for a manual host", deleted)
	}
}

func TestHostAttachMintsCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, raw := env.request(t, http.MethodPost, "/hosts/attach", testUser, map[string]string{"name": "laptop"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, raw)
	}
	var body attachHostResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.GatewayID == "" || body.GatewayToken == "" || body.BootstrapToken == "" {
		t.Fatalf("attach response missing credentials: %+v", body)
	}
	if !strings.HasSuffix(body.ConnectURL, "/gw/connect/"+body.GatewayID) {
		t.Fatalf("connect url = %q, want it to address the minted gateway", body.ConnectURL)
	}

	stored := env.hosts.get(body.Host.ID)
	if stored == nil || stored.DropletID != 0 {
		t.Fatalf("manual host row = %+v, want droplet_id 0", stored)
	}
}
