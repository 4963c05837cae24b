// Package reconcile repairs drift between the metadata store and reality on a fixed schedule. Every pass is
// idempotent and failure-tolerant: a row that cannot be repaired this round is logged and retried on the next tick.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/digitalocean"
	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
)

// passTimeout bounds one full reconciliation round.
const passTimeout = 2 * time.Minute

// Provider is the subset of the DigitalOcean client the reconciler drives.
type Provider interface {
	GetDroplet(ctx context.Context, token string, id int64) (*digitalocean.Droplet, error)
	DeleteDroplet(ctx context.Context, token string, id int64) error
}

// TokenSource resolves a user's plaintext provider access token.
type TokenSource interface {
	Token(ctx context.Context, userID string) (string, error)
}

// Reconciler runs the three repair passes: provisioning timeouts, pending deletions, and missing droplet addresses.
type Reconciler struct {
	hosts    host.Repository
	gateways gateway.Repository
	provider Provider
	tokens   TokenSource
	interval time.Duration
	log      zerolog.Logger

	quit chan struct{}
	done chan struct{}
}

// New creates a reconciler. provider and tokens may be nil when no cloud provider is configured; cloud-backed repairs
// are skipped in that case and manual hosts (droplet_id=0) are still handled.
func New(hosts host.Repository, gateways gateway.Repository, provider Provider, tokens TokenSource, interval time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		hosts:    hosts,
		gateways: gateways,
		provider: provider,
		tokens:   tokens,
		interval: interval,
		log:      logger.With().Str("component", "reconcile").Logger(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the ticker loop.
func (r *Reconciler) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
				r.RunOnce(ctx)
				cancel()
			case <-r.quit:
				return
			}
		}
	}()
}

// Stop halts the ticker loop and waits for any in-flight round to finish.
func (r *Reconciler) Stop() {
	close(r.quit)
	<-r.done
}

// RunOnce executes one reconciliation round.
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.expireProvisioning(ctx)
	r.processDeletions(ctx)
	r.backfillAddresses(ctx)
}

// expireProvisioning marks hosts whose provisioning deadline passed without a connected gateway. The guarded
// transition keeps a gateway that connects mid-pass from being clobbered.
func (r *Reconciler) expireProvisioning(ctx context.Context) {
	hosts, err := r.hosts.ListTimedOutProvisioning(ctx, time.Now().Unix())
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to list timed-out provisioning hosts")
		return
	}

	for _, h := range hosts {
		if g, err := r.gateways.GetByHost(ctx, h.ID); err == nil && g.Connected {
			continue
		}
		changed, err := r.hosts.UpdateStatusFrom(ctx, h.ID, host.StatusProvisioning, host.StatusProvisioningTimeout)
		if err != nil {
			r.log.Error().Err(err).Str("host_id", h.ID).Msg("Failed to expire provisioning host")
			continue
		}
		if changed {
			r.log.Warn().Str("host_id", h.ID).Msg("Host provisioning timed out")
		}
	}
}

// processDeletions finishes two-phase host deletion: destroy the droplet (when one exists), then cascade the metadata
// rows. Rows stay in deleting until the cloud side is confirmed gone.
func (r *Reconciler) processDeletions(ctx context.Context) {
	hosts, err := r.hosts.ListDeleting(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to list deleting hosts")
		return
	}

	for _, h := range hosts {
		if h.DropletID > 0 {
			if r.provider == nil || r.tokens == nil {
				r.log.Warn().Str("host_id", h.ID).Msg("No provider configured, cannot destroy droplet")
				continue
			}
			token, err := r.tokens.Token(ctx, h.UserID)
			if err != nil {
				r.log.Error().Err(err).Str("host_id", h.ID).Msg("Failed to resolve provider token for deletion")
				continue
			}
			if err := r.provider.DeleteDroplet(ctx, token, h.DropletID); err != nil {
				r.log.Error().Err(err).Str("host_id", h.ID).Int64("droplet_id", h.DropletID).
					Msg("Droplet destruction failed, will retry")
				continue
			}
		}

		if err := r.hosts.DeleteCascade(ctx, h.ID); err != nil {
			r.log.Error().Err(err).Str("host_id", h.ID).Msg("Failed to cascade-delete host rows")
			continue
		}
		r.log.Info().Str("host_id", h.ID).Msg("Host deletion completed")
	}
}

// backfillAddresses fills in public IPv4 addresses for droplets that had none at creation time.
func (r *Reconciler) backfillAddresses(ctx context.Context) {
	if r.provider == nil || r.tokens == nil {
		return
	}
	hosts, err := r.hosts.ListMissingIPv4(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to list hosts missing IPv4")
		return
	}

	for _, h := range hosts {
		if h.DropletID <= 0 {
			continue
		}
		token, err := r.tokens.Token(ctx, h.UserID)
		if err != nil {
			r.log.Error().Err(err).Str("host_id", h.ID).Msg("Failed to resolve provider token for address backfill")
			continue
		}
		d, err := r.provider.GetDroplet(ctx, token, h.DropletID)
		if err != nil {
			r.log.Error().Err(err).Str("host_id", h.ID).Int64("droplet_id", h.DropletID).Msg("Failed to fetch droplet")
			continue
		}
		if d.PublicIPv4 == "" {
			continue
		}
		if err := r.hosts.UpdateIPv4(ctx, h.ID, d.PublicIPv4); err != nil {
			r.log.Error().Err(err).Str("host_id", h.ID).Msg("Failed to persist droplet address")
			continue
		}
		r.log.Info().Str("host_id", h.ID).Str("ipv4", d.PublicIPv4).Msg("Droplet address recorded")
	}
}
