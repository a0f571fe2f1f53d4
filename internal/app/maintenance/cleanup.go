// Package maintenance schedules background housekeeping jobs.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/clinicbridge/intake/internal/services"
	"github.com/clinicbridge/intake/pkg/logger"
	"github.com/clinicbridge/intake/pkg/metrics"
)

const (
	defaultAuditRetention = 365 * 24 * time.Hour
	defaultAuditSpec      = "@daily"
	defaultGaugeSpec      = "@every 1m"
)

// Cleaner coordinates background maintenance: pruning old audit entries and
// refreshing the active-links gauge. Intake links themselves are never
// deleted; an expired link keeps its row for audit.
type Cleaner struct {
	audit     *services.AuditService
	links     *services.LinkService
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration

	auditSchedule string
	gaugeSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetention adjusts how long audit logs are retained before cleanup.
func WithAuditRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil dependency
// results in the corresponding job being skipped.
func NewCleaner(audit *services.AuditService, links *services.LinkService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		audit:         audit,
		links:         links,
		now:           time.Now,
		retention:     defaultAuditRetention,
		auditSchedule: defaultAuditSpec,
		gaugeSchedule: defaultGaugeSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.pruneAudit(context.Background()); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.links != nil {
		if _, err := c.cron.AddFunc(c.gaugeSchedule, func() {
			if err := c.refreshGauge(context.Background()); err != nil {
				c.log.Warn("active link gauge refresh failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured routines sequentially. Primarily used in
// tests and during startup so the gauge is populated immediately.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.audit != nil && c.retention > 0 {
		if _, err := c.pruneAudit(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.links != nil {
		if err := c.refreshGauge(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) pruneAudit(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	pruned, err := c.audit.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		c.log.Info("audit entries pruned", zap.Int64("count", pruned))
	}
	return pruned, nil
}

func (c *Cleaner) refreshGauge(ctx context.Context) error {
	count, err := c.links.CountActive(ctx)
	if err != nil {
		return err
	}
	metrics.ActiveLinks.Set(float64(count))
	return nil
}
