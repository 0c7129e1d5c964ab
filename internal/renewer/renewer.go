// Package renewer runs the periodic singleton job spec.md section 1
// calls out as an external collaborator: "ACME certificate renewal (a
// periodic singleton job that writes a TXT record via the normal
// DNS-record update path)". No real ACME logic is implemented — only
// the scheduling, advisory-locking, and DNS-record-write contract,
// matching original_source/backend/app.py's renew_certificate(). Built
// on github.com/robfig/cron/v3, the scheduler
// apps/notification-service/internal/scheduler/cron.go uses.
package renewer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arc-self/requestrepo/internal/eventbus"
	"github.com/arc-self/requestrepo/internal/store"
)

// LockName is the process-wide advisory lock key (spec.md section 4.1
// keyspace, "renewer_lock").
const LockName = "renewer_lock"

// lockTTLSeconds mirrors the original's redis.lock("renewer_lock",
// timeout=3600) — one hour, long enough that a stuck renewer cannot
// wedge the job forever but short enough it won't straddle two ticks.
const lockTTLSeconds = 3600

const tickSubject = "SYSTEM_EVENTS.cron.renewer"

// Renewer schedules the renewal job every six hours.
type Renewer struct {
	cronSched *cron.Cron
	store     store.Store
	bus       *eventbus.Bus
	log       *zap.Logger
	domain    string
}

// New builds a Renewer. domain is the TXT record's owning name — the
// renewal job writes a placeholder value there on every successful
// acquisition. The write goes straight to the resolver's dns:TXT:<fqdn>
// bucket; it does not pass through the update-dns handler, its
// validation, or a subdomain's dns:<sub> aggregate.
func New(st store.Store, bus *eventbus.Bus, log *zap.Logger, domain string) *Renewer {
	return &Renewer{
		cronSched: cron.New(),
		store:     st,
		bus:       bus,
		log:       log,
		domain:    domain,
	}
}

// Start schedules the job and runs it once immediately, matching the
// original's startup-time renew_certificate() call before entering the
// repeating schedule.
func (r *Renewer) Start() error {
	r.runOnce(context.Background())
	_, err := r.cronSched.AddFunc("@every 6h", func() { r.runOnce(context.Background()) })
	if err != nil {
		return err
	}
	r.cronSched.Start()
	r.log.Info("renewer scheduled", zap.String("interval", "6h"))
	return nil
}

// Stop gracefully drains the scheduler.
func (r *Renewer) Stop() {
	ctx := r.cronSched.Stop()
	<-ctx.Done()
}

func (r *Renewer) runOnce(ctx context.Context) {
	acquired, release, err := r.store.Lock(ctx, LockName, lockTTLSeconds)
	if err != nil {
		r.log.Warn("renewer lock attempt failed", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer func() { _ = release(ctx) }()

	r.log.Info("renewer acquired lock, renewing")
	if err := r.writeTXT(ctx, r.domain, []string{"renewal-pending"}); err != nil {
		r.log.Warn("renewer dns write failed", zap.Error(err))
		return
	}
	r.tick()
}

// writeTXT persists a placeholder token list through the same
// dns:<type>:<fqdn> bucket the resolver reads, mirroring the original's
// update_dns(domain, tokens) closure.
func (r *Renewer) writeTXT(ctx context.Context, fqdn string, tokens []string) error {
	b, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, "dns:TXT:"+fqdn+".", string(b), 0)
}

func (r *Renewer) tick() {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"event":     "cron.renewer",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	r.bus.Publish(tickSubject, payload)
}
