package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

func TestAgentInstallReturnsResolvingEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	installed, _ := json.Marshal(protocol.AgentInstalledEvent{
		Type:    protocol.TypeAgentInstalled,
		Agent:   "claude",
		Version: "1.2.0",
	})
	env.relay.reply = func(env protocol.Envelope) ([]byte, error) {
		if env.Type != protocol.TypeAgentsInstall {
			t.Errorf("relay got %q, want agents.install", env.Type)
		}
		return installed, nil
	}

	resp, raw := env.request(t, http.MethodPost, "/hosts/"+testHost+"/agents/install",
		testUser, map[string]string{"agent": "claude"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(raw) != string(installed) {
		t.Fatalf("body = %s, want the agent.installed event verbatim", raw)
	}
}

func TestAgentInstallRequiresAgent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/hosts/"+testHost+"/agents/install",
		testUser, map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGatewayUpdateRequiresChecksum(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/hosts/"+testHost+"/gateway/update",
		testUser, map[string]string{"url": "https://get.example/gw"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without sha256", resp.StatusCode)
	}
}

func TestGatewayCommandPassthrough(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	cmd := []byte(`{"type":"session.snapshot","schema_version":"1","request_id":"snap-1","session_id":"ses-1"}`)
	resp, raw := env.request(t, http.MethodPost, "/hosts/"+testHost+"/gateway/command", testUser, cmd)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, raw)
	}

	var ack protocol.AckEvent
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.RequestID != "snap-1" || !ack.OK {
		t.Fatalf("ack = %+v, want ok for snap-1", ack)
	}

	env.relay.mu.Lock()
	frames := append([][]byte(nil), env.relay.sentRaw...)
	env.relay.mu.Unlock()
	if len(frames) != 1 || string(frames[0]) != string(cmd) {
		t.Fatalf("relayed = %q, want the body untouched", frames)
	}
}

func TestGatewayCommandRejectsMalformedEnvelope(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/hosts/"+testHost+"/gateway/command",
		testUser, []byte(`{"no_type":true}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(env.relay.sentEnvelopes()) != 0 {
		t.Fatal("malformed envelope must not reach the gateway")
	}
}
