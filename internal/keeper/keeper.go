package keeper

import (
	"CoverPool/internal/core"
	"CoverPool/internal/event"
	"CoverPool/internal/ingestion"
	fpmath "CoverPool/internal/math"
	"CoverPool/internal/observability"
	"CoverPool/internal/recorder"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the weekly job just after the week boundary,
// Thursday 00:00 UTC.
const DefaultSchedule = "5 0 0 * * 4"

const jobWeekly = "weekly"

// Engine is what the keeper reads to decide which commands are due.
type Engine interface {
	CurrentWeek() int64
	Configured() bool
	Policies() []core.PolicyView
	DueWithdrawals(week int64) (pending, ready []uuid.UUID)
	Pool() core.PoolSummary
}

// Submitter applies a command synchronously.
type Submitter interface {
	SubmitCommand(ctx context.Context, cmd event.Command) (*ingestion.SubmitResult, error)
}

// RunReport summarizes one weekly run.
type RunReport struct {
	Week     int64 `json:"week"`
	Accrued  int   `json:"accrued"`
	Pending  int   `json:"pending"`
	Paid     int   `json:"paid"`
	Failures int   `json:"failures"`
}

// Keeper submits the permissionless weekly maintenance commands:
// premium accrual for every policy and the advancement of every due
// withdrawal. It then records the pool's weekly statistics.
type Keeper struct {
	cron     *cron.Cron
	engine   Engine
	submit   Submitter
	recorder recorder.Recorder
	caller   uuid.UUID
	metrics  *observability.Metrics
	logger   zerolog.Logger
	ctx      context.Context
}

func New(ctx context.Context, engine Engine, submit Submitter, rec recorder.Recorder, caller uuid.UUID, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Keeper{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		engine:   engine,
		submit:   submit,
		recorder: rec,
		caller:   caller,
		metrics:  metrics,
		logger:   logger,
		ctx:      ctx,
	}
}

// Register schedules the weekly job. An empty spec uses DefaultSchedule.
func (k *Keeper) Register(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := k.cron.AddFunc(spec, func() {
		if _, err := k.RunNow(k.ctx); err != nil {
			k.logger.Error().Err(err).Msg("weekly keeper run failed")
		}
	}); err != nil {
		return fmt.Errorf("register weekly job %q: %w", spec, err)
	}
	return nil
}

func (k *Keeper) Start() {
	k.cron.Start()
	k.logger.Info().Msg("keeper started")
}

// Stop waits for a running job to finish.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.logger.Info().Msg("keeper stopped")
}

// RunNow executes the weekly job immediately. Individual command
// failures are logged and counted; the run goes on with the rest.
func (k *Keeper) RunNow(ctx context.Context) (RunReport, error) {
	start := time.Now()
	week := k.engine.CurrentWeek()
	report := RunReport{Week: week}

	if !k.engine.Configured() {
		k.observe("skipped", start)
		k.logger.Info().Int64("week", week).Msg("pool not configured, keeper run skipped")
		return report, nil
	}

	for _, p := range k.engine.Policies() {
		if err := ctx.Err(); err != nil {
			k.observe("aborted", start)
			return report, err
		}
		res, err := k.submit.SubmitCommand(ctx, &event.AccruePremium{Header: k.header(week), PolicyID: p.ID})
		if err != nil {
			report.Failures++
			k.logger.Warn().Err(err).Int64("policy_id", p.ID).Msg("accrue premium failed")
			continue
		}
		report.Accrued++
		if plan := res.Accrual; plan != nil && !plan.Empty() {
			k.record(k.recorder.RecordAccrual(&recorder.AccrualEvent{
				Week:        week,
				PolicyID:    plan.PolicyID,
				ThroughWeek: plan.ThroughWeek,
				Premium:     plan.TotalPremium,
				Refund:      plan.TotalRefund,
				Pool:        plan.TotalPool,
				Fee1:        plan.TotalFee1,
				Fee2:        plan.TotalFee2,
			}))
		}
	}

	pending, ready := k.engine.DueWithdrawals(week)
	for _, provider := range pending {
		if _, err := k.submit.SubmitCommand(ctx, &event.AdvancePending{Header: k.header(week), Provider: provider}); err != nil {
			report.Failures++
			k.logger.Warn().Err(err).Str("provider", provider.String()).Msg("advance pending withdrawal failed")
			continue
		}
		report.Pending++
		k.record(k.recorder.RecordWithdrawal(&recorder.WithdrawalEvent{
			Week: week, Provider: provider, Phase: "pending", Net: fpmath.Zero(), Fee: fpmath.Zero(),
		}))
	}
	for _, provider := range ready {
		res, err := k.submit.SubmitCommand(ctx, &event.AdvanceReady{Header: k.header(week), Provider: provider})
		if err != nil {
			report.Failures++
			k.logger.Warn().Err(err).Str("provider", provider.String()).Msg("pay withdrawal failed")
			continue
		}
		report.Paid++
		evt := &recorder.WithdrawalEvent{Week: week, Provider: provider, Phase: "paid", Net: fpmath.Zero(), Fee: fpmath.Zero()}
		if res.Payout != nil {
			evt.Net, evt.Fee = res.Payout.Net, res.Payout.Fee
		}
		k.record(k.recorder.RecordWithdrawal(evt))
	}

	pool := k.engine.Pool()
	k.record(k.recorder.RecordWeekly(&recorder.WeeklyStats{
		Week:               week,
		Sequence:           pool.NextSequence,
		Collateral:         pool.Collateral,
		TotalShares:        pool.TotalShares,
		AmountPerShare:     pool.AmountPerShare,
		EscrowedPremium:    pool.EscrowedPremium,
		OutstandingRefunds: pool.OutstandingRefunds,
		Providers:          pool.Providers,
		Policies:           pool.Policies,
		RecordedAt:         time.Now(),
	}))

	outcome := "ok"
	if report.Failures > 0 {
		outcome = "partial"
	}
	k.observe(outcome, start)
	k.logger.Info().
		Int64("week", week).
		Int("accrued", report.Accrued).
		Int("pending", report.Pending).
		Int("paid", report.Paid).
		Int("failures", report.Failures).
		Msg("keeper run complete")
	return report, nil
}

func (k *Keeper) header(week int64) event.Header {
	h := event.Header{CommandID: uuid.New(), CallerID: k.caller}
	h.StampWeek(week)
	return h
}

func (k *Keeper) record(err error) {
	if err != nil {
		k.logger.Error().Err(err).Msg("record keeper stats")
	}
}

func (k *Keeper) observe(outcome string, start time.Time) {
	if k.metrics == nil {
		return
	}
	k.metrics.KeeperRuns.WithLabelValues(jobWeekly, outcome).Inc()
	k.metrics.KeeperDuration.WithLabelValues(jobWeekly).Observe(time.Since(start).Seconds())
}
