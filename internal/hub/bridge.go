package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/session"
)

// Bridge receives hub lifecycle transitions that must outlive the hub: gateway liveness, host activation, and session
// status. Calls must not block; the hub invokes them from its serialized event loop.
type Bridge interface {
	// GatewayConnected records a validated hello: version, connected flag, and the idempotent provisioning→active
	// host transition.
	GatewayConnected(gatewayID, version string)

	// GatewayDisconnected marks the gateway not connected. It is idempotent; the reconnect grace timer fires it a
	// second time.
	GatewayDisconnected(gatewayID string)

	// GatewayAlive refreshes the gateway's last-seen timestamp from a health event.
	GatewayAlive(gatewayID string)

	// SessionStatus records a session lifecycle transition reported by the gateway.
	SessionStatus(sessionID string, status session.Status)
}

// storeJobTimeout bounds each metadata write issued by the bridge worker.
const storeJobTimeout = 5 * time.Second

// storeJobBuffer is the bridge worker's queue depth. The hub never blocks on Postgres: a full queue drops the write
// with a warning, and reconciliation repairs any resulting drift.
const storeJobBuffer = 256

// StoreBridge implements Bridge over the metadata repositories. Writes run on a single worker goroutine in FIFO
// order, so the store observes transitions in the order the hub emitted them.
type StoreBridge struct {
	gateways gateway.Repository
	hosts    host.Repository
	sessions session.Repository
	jobs     chan func(ctx context.Context)
	done     chan struct{}
	log      zerolog.Logger
}

// NewStoreBridge creates a bridge over the given repositories and starts its worker.
func NewStoreBridge(gateways gateway.Repository, hosts host.Repository, sessions session.Repository, logger zerolog.Logger) *StoreBridge {
	b := &StoreBridge{
		gateways: gateways,
		hosts:    hosts,
		sessions: sessions,
		jobs:     make(chan func(ctx context.Context), storeJobBuffer),
		done:     make(chan struct{}),
		log:      logger.With().Str("component", "hub-bridge").Logger(),
	}
	go b.run()
	return b
}

// Close stops the worker after draining queued writes.
func (b *StoreBridge) Close() {
	close(b.jobs)
	<-b.done
}

func (b *StoreBridge) run() {
	defer close(b.done)
	for job := range b.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), storeJobTimeout)
		job(ctx)
		cancel()
	}
}

func (b *StoreBridge) submit(job func(ctx context.Context)) {
	select {
	case b.jobs <- job:
	default:
		b.log.Warn().Msg("Bridge queue full, dropping metadata write")
	}
}

// GatewayConnected implements Bridge.
func (b *StoreBridge) GatewayConnected(gatewayID, version string) {
	b.submit(func(ctx context.Context) {
		g, err := b.gateways.GetByID(ctx, gatewayID)
		if err != nil {
			b.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Hello for unknown gateway")
			return
		}

		if version != "" && version != g.Version {
			if err := b.gateways.UpdateVersion(ctx, gatewayID, version); err != nil {
				b.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Failed to update gateway version")
			}
		}
		if err := b.gateways.UpdateConnected(ctx, gatewayID, true, time.Now().Unix()); err != nil {
			b.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Failed to mark gateway connected")
			return
		}

		activated, err := b.hosts.UpdateStatusFrom(ctx, g.HostID, host.StatusProvisioning, host.StatusActive)
		if err != nil {
			b.log.Warn().Err(err).Str("host_id", g.HostID).Msg("Failed to activate host")
			return
		}
		if activated {
			b.log.Info().Str("host_id", g.HostID).Str("gateway_id", gatewayID).Msg("Host activated")
		}
	})
}

// GatewayDisconnected implements Bridge.
func (b *StoreBridge) GatewayDisconnected(gatewayID string) {
	b.submit(func(ctx context.Context) {
		if err := b.gateways.UpdateConnected(ctx, gatewayID, false, time.Now().Unix()); err != nil {
			b.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Failed to mark gateway disconnected")
		}
	})
}

// GatewayAlive implements Bridge.
func (b *StoreBridge) GatewayAlive(gatewayID string) {
	b.submit(func(ctx context.Context) {
		if err := b.gateways.UpdateLastSeen(ctx, gatewayID, time.Now().Unix()); err != nil {
			b.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("Failed to refresh gateway last seen")
		}
	})
}

// SessionStatus implements Bridge.
func (b *StoreBridge) SessionStatus(sessionID string, status session.Status) {
	b.submit(func(ctx context.Context) {
		if err := b.sessions.UpdateStatus(ctx, sessionID, status); err != nil {
			b.log.Warn().Err(err).Str("session_id", sessionID).Str("status", string(status)).
				Msg("Failed to update session status")
		}
	})
}
