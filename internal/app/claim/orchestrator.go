package claim

import (
	"context"
	"fmt"

	adhttp "github.com/ohmynofan/b402-claimer/internal/adapters/http"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/internal/platform/metrics"
)

const maxReauthRetries = 1

// Journal records attempts and per-item outcomes.
type Journal interface {
	BeginAttempt(ctx context.Context, trigger string, retry int) (int64, error)
	RecordOutcomes(ctx context.Context, attemptID int64, outcomes []model.Outcome) error
	FinishAttempt(ctx context.Context, attemptID int64, result, detail string) error
}

type Steps struct {
	Sessions *SessionManager
	Approver *Approver
	Prober   *Prober
	Builder  *Builder
	Blaster  *Blaster
}

type Result struct {
	Requirement *model.PaymentRequirement
	Outcomes    []model.Outcome
	Retries     int
}

func (r *Result) Counts() (success, failed int) {
	if r == nil {
		return 0, 0
	}
	return model.CountOutcomes(r.Outcomes)
}

// Orchestrator runs login, approval, probe, build and blast in order.
type Orchestrator struct {
	steps     Steps
	mintCount int
	journal   Journal
	metrics   *metrics.Recorder
	status    *model.Status
	log       *logger.ClassLogger
}

func NewOrchestrator(steps Steps, mintCount int, journal Journal, rec *metrics.Recorder, status *model.Status) *Orchestrator {
	o := &Orchestrator{
		steps:     steps,
		mintCount: mintCount,
		journal:   journal,
		metrics:   rec,
		status:    status,
	}
	o.log = logger.NewLogger(o, status)
	return o
}

// Run executes one claim flow. A 401 from any step drops the session and
// restarts the flow once; a second 401 is returned.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (*Result, error) {
	return o.run(ctx, trigger, 0)
}

func (o *Orchestrator) run(ctx context.Context, trigger string, retry int) (*Result, error) {
	o.status.Update(func(v *model.StatusView) { v.Attempts++ })
	attemptID := o.beginAttempt(ctx, trigger, retry)

	result, err := o.execute(ctx)
	if err != nil {
		if adhttp.IsUnauthorized(err) && retry < maxReauthRetries {
			o.finishAttempt(ctx, attemptID, "unauthorized", err.Error())
			o.metrics.IncAttempt("unauthorized")
			o.log.Log("[CLAIM] JWT expired, re-authenticating...")
			o.steps.Sessions.Invalidate()
			return o.run(ctx, trigger, retry+1)
		}
		o.finishAttempt(ctx, attemptID, "failed", err.Error())
		o.metrics.IncAttempt("failed")
		return nil, err
	}

	result.Retries = retry
	if o.journal != nil && attemptID != 0 {
		if jerr := o.journal.RecordOutcomes(ctx, attemptID, result.Outcomes); jerr != nil {
			o.log.JustLog(fmt.Sprintf("journal: %v", jerr))
		}
	}
	success, failed := result.Counts()
	o.finishAttempt(ctx, attemptID, "completed", fmt.Sprintf("%d success, %d failed", success, failed))
	o.metrics.IncAttempt("completed")
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context) (*Result, error) {
	token, err := o.steps.Sessions.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	if err := o.steps.Approver.ApproveOnce(ctx); err != nil {
		return nil, err
	}

	req, err := o.steps.Prober.FetchRequirement(ctx, token)
	if err != nil {
		return nil, err
	}

	batch, err := o.steps.Builder.BuildBatch(ctx, req, o.mintCount)
	if err != nil {
		return nil, err
	}

	outcomes := o.steps.Blaster.Blast(ctx, batch, req, token)
	return &Result{Requirement: req, Outcomes: outcomes}, nil
}

func (o *Orchestrator) beginAttempt(ctx context.Context, trigger string, retry int) int64 {
	if o.journal == nil {
		return 0
	}
	id, err := o.journal.BeginAttempt(ctx, trigger, retry)
	if err != nil {
		o.log.JustLog(fmt.Sprintf("journal: %v", err))
		return 0
	}
	return id
}

func (o *Orchestrator) finishAttempt(ctx context.Context, attemptID int64, result, detail string) {
	if o.journal == nil || attemptID == 0 {
		return
	}
	if err := o.journal.FinishAttempt(ctx, attemptID, result, detail); err != nil {
		o.log.JustLog(fmt.Sprintf("journal: %v", err))
	}
}
