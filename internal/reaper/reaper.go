// Package reaper runs the background sweep that tears down expired visitor
// sandboxes and finishes interrupted teardowns.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/firefly-engineering/sandboxd/internal/audit"
	"github.com/firefly-engineering/sandboxd/internal/logging"
	"github.com/firefly-engineering/sandboxd/internal/reconcile"
	"github.com/firefly-engineering/sandboxd/internal/record"
	"github.com/firefly-engineering/sandboxd/internal/sandbox"
	"github.com/firefly-engineering/sandboxd/internal/store"
)

// Result summarizes one sweep.
type Result struct {
	Expired  int `json:"expired" yaml:"expired"`
	Retried  int `json:"retried" yaml:"retried"`
	Stale    int `json:"stale" yaml:"stale"`
	Orphans  int `json:"orphans" yaml:"orphans"`
	Failures int `json:"failures" yaml:"failures"`
}

// Reaper periodically sweeps the record store.
type Reaper struct {
	interval  time.Duration
	store     *store.Store
	validator *reconcile.Validator
	teardown  *sandbox.Teardown
	collector *sandbox.Collector
	auditLog  *audit.Logger
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithOrphanReclaim makes every sweep also remove containers and workspaces
// that have no live record.
func WithOrphanReclaim(c *sandbox.Collector) Option {
	return func(r *Reaper) {
		r.collector = c
	}
}

// WithAuditLogger sets the audit logger for recording expiries.
func WithAuditLogger(l *audit.Logger) Option {
	return func(r *Reaper) {
		r.auditLog = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) {
		r.logger = l
	}
}

// New creates a new Reaper.
func New(interval time.Duration, s *store.Store, v *reconcile.Validator, td *sandbox.Teardown, opts ...Option) *Reaper {
	r := &Reaper{
		interval:  interval,
		store:     s,
		validator: v,
		teardown:  td,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logging.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Debug("starting reaper", "interval", r.interval, "reclaimOrphans", r.collector != nil)

	// Run an immediate sweep, then loop on interval.
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reaper stopping")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep makes one pass:
//   - visitor sandboxes past their expiry are torn down
//   - records left deleting by an incomplete teardown are finished
//   - provisioning records abandoned without a container are torn down
//   - orphans are reclaimed, when enabled
//
// Failures are logged and counted; a sweep never stops early.
func (r *Reaper) Sweep(ctx context.Context) Result {
	var res Result

	expired, err := r.store.ListExpired(ctx, r.now())
	if err != nil {
		r.logger.Warn("reaper failed to list expired sandboxes", "error", err)
		res.Failures++
	}
	for _, rec := range expired {
		if ctx.Err() != nil {
			return res
		}
		r.logger.Info("sandbox expired", "sandbox", rec.ID, "expires_at", rec.ExpiresAt)
		r.logExpire(rec)
		r.count(&res, &res.Expired, r.teardown.Run(ctx, rec, sandbox.ReasonExpired))
	}

	unfinished, err := r.store.List(ctx, record.StatusDeleting)
	if err != nil {
		r.logger.Warn("reaper failed to list deleting sandboxes", "error", err)
		res.Failures++
	}
	for _, rec := range unfinished {
		if ctx.Err() != nil {
			return res
		}
		r.count(&res, &res.Retried, r.teardown.Finish(ctx, rec, sandbox.ReasonStale))
	}

	provisioning, err := r.store.List(ctx, record.StatusProvisioning)
	if err != nil {
		r.logger.Warn("reaper failed to list provisioning sandboxes", "error", err)
		res.Failures++
	}
	for _, rec := range provisioning {
		if ctx.Err() != nil {
			return res
		}
		check, err := r.validator.Reconcile(ctx, rec)
		if err != nil {
			r.logger.Warn("reaper failed to reconcile sandbox", "sandbox", rec.ID, "error", err)
			res.Failures++
			continue
		}
		if check.Verdict != reconcile.Stale {
			continue
		}
		r.count(&res, &res.Stale, r.teardown.Run(ctx, check.Record, sandbox.ReasonStale))
	}

	if r.collector != nil && ctx.Err() == nil {
		r.reclaim(ctx, &res)
	}

	if res != (Result{}) {
		r.logger.Info("reaper sweep done",
			"expired", res.Expired, "retried", res.Retried, "stale", res.Stale,
			"orphans", res.Orphans, "failures", res.Failures)
	}
	return res
}

func (r *Reaper) reclaim(ctx context.Context, res *Result) {
	garbage, err := r.collector.Collect(ctx)
	if err != nil {
		r.logger.Warn("reaper skipped orphan reclaim", "error", err)
		res.Failures++
		return
	}
	if garbage.Empty() {
		return
	}
	res.Orphans = len(garbage.OrphanedContainers) + len(garbage.OrphanedWorkspaces)
	res.Stale += len(garbage.StaleRecords)
	res.Retried += len(garbage.Unfinished)
	if err := r.collector.Execute(ctx, garbage); err != nil {
		r.logger.Warn("reaper orphan reclaim incomplete", "error", err)
		res.Failures++
	}
}

func (r *Reaper) count(res *Result, n *int, report *sandbox.Report) {
	if err := report.Err(); err != nil {
		res.Failures++
		return
	}
	*n++
}

func (r *Reaper) logExpire(rec *record.Record) {
	if r.auditLog == nil {
		return
	}
	details := "expired"
	if rec.ExpiresAt != nil {
		details = "expired at " + rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if err := r.auditLog.LogEvent(audit.EventExpire, rec.ID, details); err != nil {
		r.logger.Warn("failed to write audit event", "sandbox", rec.ID, "error", err)
	}
}
