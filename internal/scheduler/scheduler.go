// Package scheduler drives the periodic maintenance work: billing cycle
// runs, pause expiry and usage rollup compaction.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fairwaylabs/fairway/internal/billing"
	"github.com/fairwaylabs/fairway/internal/clock"
	obsmetrics "github.com/fairwaylabs/fairway/internal/observability/metrics"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	usagedomain "github.com/fairwaylabs/fairway/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billing.Service
	SubSvc     subscriptiondomain.Service
	UsageSvc   usagedomain.Service
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc billing.Service
	subSvc     subscriptiondomain.Service
	usageSvc   usagedomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.BillingSvc == nil || p.SubSvc == nil || p.UsageSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
		subSvc:     p.SubSvc,
		usageSvc:   p.UsageSvc,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if s.obsMetrics != nil {
		s.obsMetrics.IncJobRun(name)
	}
	err := fn(ctx)
	if s.obsMetrics != nil {
		s.obsMetrics.ObserveJobDuration(name, time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	if s.obsMetrics != nil {
		s.obsMetrics.IncJobError(name)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"billing_cycle", s.cfg.BillingTimeout, s.BillingCycleJob},
		{"pause_expiry", 30 * time.Second, s.PauseExpiryJob},
		{"usage_flush", 30 * time.Second, s.UsageFlushJob},
		{"usage_compact", s.cfg.CompactTimeout, s.UsageCompactJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) BillingCycleJob(ctx context.Context) error {
	report, err := s.billingSvc.RunCycle(ctx)
	if report.Processed+report.Failed+report.Skipped > 0 {
		s.log.Info("billing cycle finished",
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
	}
	return err
}

func (s *Scheduler) PauseExpiryJob(ctx context.Context) error {
	resumed, err := s.subSvc.ResumeExpiredPauses(ctx, s.clock.Now(), s.cfg.BatchSize)
	if resumed > 0 {
		s.log.Info("expired pauses resumed", zap.Int("count", resumed))
	}
	return err
}

func (s *Scheduler) UsageFlushJob(ctx context.Context) error {
	return s.usageSvc.Flush(ctx)
}

func (s *Scheduler) UsageCompactJob(ctx context.Context) error {
	return s.usageSvc.Compact(ctx, s.clock.Now())
}

// isJobEnabled defaults to all jobs on; EnabledJobs narrows the set for
// split deployments.
func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
