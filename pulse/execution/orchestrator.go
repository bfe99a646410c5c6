package execution

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/logger"
	"github.com/teranos/rankpulse/pulse/schedule"
)

// FallbackEstimate is the item count shown when a handler cannot estimate
const FallbackEstimate = 10

// StoppedMessage is written on runs stopped by an operator
const StoppedMessage = "stopped by operator"

// ShutdownMessage is written on runs interrupted by process shutdown
const ShutdownMessage = "interrupted: shutting down"

// Broadcaster is notified as runs change. Implementations must not block.
type Broadcaster interface {
	BroadcastRunStarted(run *Run)
	BroadcastRunProgress(runID, stage string, progress Progress)
	BroadcastRunFinished(run *Run)
}

// DefinitionRecorder is the schedule bookkeeping the orchestrator writes
type DefinitionRecorder interface {
	MarkStarted(ctx context.Context, id string, at time.Time) error
	RecordRun(ctx context.Context, id string, at time.Time, status schedule.LastRunStatus) error
}

// HandlerSet maps every job type to its handler
type HandlerSet map[crawl.JobType]crawl.Handler

// NewHandlerSet checks that every job type has a handler
func NewHandlerSet(handlers map[crawl.JobType]crawl.Handler) (HandlerSet, error) {
	set := make(HandlerSet, len(handlers))
	for _, jt := range crawl.AllJobTypes() {
		h, ok := handlers[jt]
		if !ok || h == nil {
			return nil, errors.WithHint(
				errors.Newf("no handler registered for job type %s", jt),
				"every job type needs a handler before the orchestrator can start")
		}
		set[jt] = h
	}
	return set, nil
}

// OutcomeKind classifies the result of Execute
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeStopped   OutcomeKind = "stopped"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeStarted   OutcomeKind = "started" // TriggerAsync only
)

// Outcome is what Execute reports back
type Outcome struct {
	Kind          OutcomeKind
	RunID         string
	ExistingRunID string // set for duplicates when the holder is known
	Message       string
	Result        *crawl.Result
}

// Err returns nil for successful and stopped runs, an ErrConflict for
// duplicates and a plain error for failures.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeDuplicate:
		err := errors.NewConflictError("%s", o.Message)
		if o.ExistingRunID != "" {
			err = errors.WithDetailf(err, "Existing run ID: %s", o.ExistingRunID)
		}
		return err
	case OutcomeFailed:
		err := errors.Newf("run failed: %s", o.Message)
		if o.RunID != "" {
			err = errors.WithDetailf(err, "Run ID: %s", o.RunID)
		}
		return err
	}
	return nil
}

// Config holds orchestrator settings
type Config struct {
	// Display-only duration estimates per job type, in seconds
	EstimatedDurations map[crawl.JobType]int
	Broadcaster        Broadcaster
	Logger             *zap.SugaredLogger
	Now                func() time.Time
}

// Orchestrator drives runs from admission to a terminal record
type Orchestrator struct {
	runs        *Store
	definitions DefinitionRecorder
	handlers    HandlerSet
	guard       *Guard
	broadcaster Broadcaster
	estimates   map[crawl.JobType]int
	now         func() time.Time
	logger      *zap.SugaredLogger

	// Lifetime of asynchronously triggered runs
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewOrchestrator creates an orchestrator. definitions may be nil when no
// scheduled runs are executed.
func NewOrchestrator(runs *Store, definitions DefinitionRecorder, handlers HandlerSet, cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = logger.ComponentLogger("pulse.execution")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		runs:        runs,
		definitions: definitions,
		handlers:    handlers,
		guard:       NewGuard(),
		broadcaster: cfg.Broadcaster,
		estimates:   cfg.EstimatedDurations,
		now:         now,
		logger:      logger.AddPulseSymbol(log),
		ctx:         ctx,
		cancel:      cancel,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// SetBroadcaster replaces the broadcaster; call before any run starts
func (o *Orchestrator) SetBroadcaster(b Broadcaster) {
	o.broadcaster = b
}

// Guard exposes the admission guard, for inspection
func (o *Orchestrator) Guard() *Guard {
	return o.guard
}

// Recover fails run records left running by a previous process. Call once
// before the first run starts.
func (o *Orchestrator) Recover(ctx context.Context) (int64, error) {
	n, err := o.runs.FailOrphaned(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Warnw("Failed orphaned runs from previous process", logger.FieldCount, n)
	}
	return n, nil
}

type request struct {
	definitionID string
	tenantID     string
	jobType      crawl.JobType
	trigger      Trigger
	options      crawl.Options
}

// Execute runs a scheduled definition to completion
func (o *Orchestrator) Execute(ctx context.Context, def *schedule.Definition) Outcome {
	opts, err := crawl.ParseOptions(def.Config)
	if err != nil {
		return o.rejectDefinition(ctx, def, err)
	}
	return o.execute(ctx, request{
		definitionID: def.ID,
		tenantID:     def.TenantID,
		jobType:      def.JobType,
		trigger:      TriggerScheduled,
		options:      opts,
	}, nil)
}

// ExecuteScheduled adapts Execute for the polling loop
func (o *Orchestrator) ExecuteScheduled(ctx context.Context, def *schedule.Definition) (string, error) {
	out := o.Execute(ctx, def)
	if out.Kind == OutcomeDuplicate {
		return out.ExistingRunID, out.Err()
	}
	return out.RunID, out.Err()
}

// Trigger runs a manual job to completion
func (o *Orchestrator) Trigger(ctx context.Context, tenantID string, jobType crawl.JobType, opts crawl.Options) Outcome {
	if !jobType.Valid() {
		return Outcome{Kind: OutcomeFailed, Message: fmt.Sprintf("unknown job type %q", jobType)}
	}
	return o.execute(ctx, manualRequest(tenantID, jobType, opts), nil)
}

// TriggerAsync starts a manual job and returns once its record exists. The
// run continues on the orchestrator's own context, independent of ctx.
// Invalid input is returned as an error; a duplicate is an Outcome.
func (o *Orchestrator) TriggerAsync(ctx context.Context, tenantID string, jobType crawl.JobType, opts crawl.Options) (Outcome, error) {
	if tenantID == "" {
		return Outcome{}, errors.NewInvalidRequestError("tenant_id is required")
	}
	if !jobType.Valid() {
		_, err := crawl.ParseJobType(string(jobType))
		return Outcome{}, err
	}
	if err := o.ctx.Err(); err != nil {
		return Outcome{}, errors.Wrap(errors.ErrServiceUnavailable, "orchestrator is shutting down")
	}

	started := make(chan Outcome, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		out := o.execute(o.ctx, manualRequest(tenantID, jobType, opts), started)
		o.logOutcome(out, tenantID, jobType)
	}()

	select {
	case out := <-started:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, errors.Wrap(ctx.Err(), "waiting for run to start")
	}
}

func manualRequest(tenantID string, jobType crawl.JobType, opts crawl.Options) request {
	return request{tenantID: tenantID, jobType: jobType, trigger: TriggerManual, options: opts}
}

// Stop marks a running run stopped and cancels its handler. The handler
// notices before its next item; the guard is released when it returns.
func (o *Orchestrator) Stop(ctx context.Context, runID string) error {
	if err := o.runs.MarkStopped(ctx, runID, StoppedMessage); err != nil {
		return err
	}

	o.mu.Lock()
	cancel, live := o.cancels[runID]
	o.mu.Unlock()
	if live {
		cancel()
	}

	o.logger.Infow("Run stopped", logger.FieldRunID, runID, "live", live)
	if run, err := o.runs.Get(ctx, runID); err == nil && o.broadcaster != nil {
		o.broadcaster.BroadcastRunFinished(run)
	}
	return nil
}

// Shutdown cancels asynchronously triggered runs and waits for them
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

// execute admits, records, runs and finishes one request. started, when
// non-nil, receives the first definite outcome: the created run, a
// duplicate, or a failure to create.
func (o *Orchestrator) execute(ctx context.Context, req request, started chan<- Outcome) (out Outcome) {
	notified := false
	notify := func(first Outcome) {
		if started != nil && !notified {
			notified = true
			started <- first
		}
	}
	defer func() { notify(out) }()

	log := o.logger.With(
		logger.FieldTenantID, req.tenantID,
		logger.FieldJobType, req.jobType,
		logger.FieldTrigger, req.trigger,
	)
	if req.definitionID != "" {
		log = log.With(logger.FieldDefinitionID, req.definitionID)
	}

	handler, ok := o.handlers[req.jobType]
	if !ok {
		return Outcome{Kind: OutcomeFailed, Message: fmt.Sprintf("no handler for job type %s", req.jobType)}
	}

	if !o.guard.TryAcquire(req.definitionID, req.tenantID, req.jobType) {
		return o.duplicate(ctx, req)
	}
	defer o.guard.Release(req.definitionID, req.tenantID, req.jobType)

	// The cancel func is registered before the record exists, so a Stop
	// that finds the record always reaches the handler.
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(logger.WithRunID(ctx, runID))
	o.mu.Lock()
	o.cancels[runID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, runID)
		o.mu.Unlock()
		cancel()
	}()

	created := false
	defer func() {
		if r := recover(); r != nil {
			out = o.recoverRun(ctx, req, runID, created, r, log)
		}
	}()

	total, err := handler.Estimate(ctx, req.tenantID, req.options)
	if err != nil {
		log.Warnw("Estimate failed, using fallback",
			logger.FieldError, err,
			"fallback", FallbackEstimate)
		total = FallbackEstimate
	}

	run := &Run{
		ID:                       runID,
		TenantID:                 req.tenantID,
		JobType:                  req.jobType,
		DefinitionID:             req.definitionID,
		Trigger:                  req.trigger,
		ItemsTotal:               total,
		Stage:                    crawl.StageInitializing,
		EstimatedDurationSeconds: o.estimates[req.jobType],
		StartedAt:                o.now().UTC(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		log.Errorw("Failed to create run record", logger.FieldError, err)
		return Outcome{Kind: OutcomeFailed, Message: err.Error()}
	}
	created = true
	o.guard.Bind(req.tenantID, req.jobType, run.ID)
	log = log.With(logger.FieldRunID, run.ID)

	if req.definitionID != "" && o.definitions != nil {
		if err := o.definitions.MarkStarted(ctx, req.definitionID, run.StartedAt); err != nil {
			log.Warnw("Failed to mark definition started", logger.FieldError, err)
		}
	}

	log.Infow("Run started", logger.FieldTotal, total)
	if o.broadcaster != nil {
		o.broadcaster.BroadcastRunStarted(run)
	}
	notify(Outcome{Kind: OutcomeStarted, RunID: run.ID})

	task := crawl.Task{RunID: run.ID, TenantID: req.tenantID, JobType: req.jobType, Options: req.options}
	result, runErr := o.runHandler(runCtx, handler, task, o.reporter(ctx, run.ID, log))

	// Terminal writes must land even if ctx was cancelled
	finishCtx := context.WithoutCancel(ctx)
	fin := Finish{Status: StatusCompleted, CompletedAt: o.now().UTC()}
	if result != nil {
		fin.Message = result.Message
		fin.ErrorCount = result.ErrorCount
		fin.ItemsUpdated = result.ItemsUpdated
		fin.ItemsTotal = result.ItemsTotal
		fin.ItemsProcessed = result.ItemsProcessed
	}
	switch {
	case runErr != nil:
		fin.Status = StatusFailed
		fin.Message = runErr.Error()
	case runCtx.Err() != nil:
		// Not stopped by an operator (that already wrote the record), so
		// the process is going away.
		fin.Status = StatusFailed
		fin.Message = ShutdownMessage
	}
	if fin.Status == StatusFailed && fin.ErrorCount < 1 {
		fin.ErrorCount = 1
	}

	finished, err := o.runs.Finish(finishCtx, run.ID, fin)
	if err != nil {
		log.Errorw("Failed to finish run", logger.FieldError, err)
	}

	out = Outcome{RunID: run.ID, Message: fin.Message, Result: result}
	switch {
	case err == nil && !finished:
		out.Kind = OutcomeStopped
		out.Message = StoppedMessage
	case fin.Status == StatusFailed:
		out.Kind = OutcomeFailed
	default:
		out.Kind = OutcomeCompleted
	}

	o.recordDefinition(finishCtx, req.definitionID, fin.CompletedAt, out.Kind, log)

	if o.broadcaster != nil && finished {
		if final, err := o.runs.Get(finishCtx, run.ID); err == nil {
			o.broadcaster.BroadcastRunFinished(final)
		}
	}
	return out
}

// recoverRun turns a panic outside the handler into a failed outcome. The
// run record, when one was created, is failed with it.
func (o *Orchestrator) recoverRun(ctx context.Context, req request, runID string, created bool, r interface{}, log *zap.SugaredLogger) Outcome {
	log.Errorw("Run panicked",
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()))

	at := o.now().UTC()
	finishCtx := context.WithoutCancel(ctx)
	out := Outcome{Kind: OutcomeFailed, Message: fmt.Sprintf("panic: %v", r)}
	if created {
		out.RunID = runID
		finished, err := o.runs.Finish(finishCtx, runID, Finish{
			Status:      StatusFailed,
			Message:     out.Message,
			ErrorCount:  1,
			CompletedAt: at,
		})
		switch {
		case err != nil:
			log.Errorw("Failed to finish run", logger.FieldError, err)
		case !finished:
			// Already terminal; report what the record says
			if run, err := o.runs.Get(finishCtx, runID); err == nil {
				out.Kind = outcomeKind(run.Status)
				out.Message = run.Message
			}
		default:
			if run, err := o.runs.Get(finishCtx, runID); err == nil && o.broadcaster != nil {
				o.broadcaster.BroadcastRunFinished(run)
			}
		}
	}
	o.recordDefinition(finishCtx, req.definitionID, at, out.Kind, log)
	return out
}

// rejectDefinition records a failed run for a definition whose stored config
// no longer parses, so the failure shows in run history.
func (o *Orchestrator) rejectDefinition(ctx context.Context, def *schedule.Definition, cause error) Outcome {
	log := o.logger.With(
		logger.FieldTenantID, def.TenantID,
		logger.FieldJobType, def.JobType,
		logger.FieldDefinitionID, def.ID,
	)
	ctx = context.WithoutCancel(ctx)
	at := o.now().UTC()
	out := Outcome{Kind: OutcomeFailed, Message: cause.Error()}

	run := &Run{
		TenantID:     def.TenantID,
		JobType:      def.JobType,
		DefinitionID: def.ID,
		Trigger:      TriggerScheduled,
		StartedAt:    at,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		log.Errorw("Failed to record rejected run", logger.FieldError, err)
	} else {
		out.RunID = run.ID
		fin := Finish{Status: StatusFailed, Message: out.Message, ErrorCount: 1, CompletedAt: at}
		if _, err := o.runs.Finish(ctx, run.ID, fin); err != nil {
			log.Errorw("Failed to finish rejected run", logger.FieldError, err)
		}
	}
	log.Warnw("Scheduled run rejected", logger.FieldError, cause)
	o.recordDefinition(ctx, def.ID, at, out.Kind, log)
	return out
}

// recordDefinition stamps the outcome on the definition a run came from.
// Operator stops leave the start stamp alone.
func (o *Orchestrator) recordDefinition(ctx context.Context, definitionID string, at time.Time, kind OutcomeKind, log *zap.SugaredLogger) {
	if definitionID == "" || o.definitions == nil || kind == OutcomeStopped {
		return
	}
	status := schedule.LastRunSuccess
	if kind == OutcomeFailed {
		status = schedule.LastRunFailure
	}
	if err := o.definitions.RecordRun(ctx, definitionID, at, status); err != nil {
		log.Warnw("Failed to record run on definition", logger.FieldError, err)
	}
}

func outcomeKind(s Status) OutcomeKind {
	switch s {
	case StatusCompleted:
		return OutcomeCompleted
	case StatusStopped:
		return OutcomeStopped
	}
	return OutcomeFailed
}

func (o *Orchestrator) duplicate(ctx context.Context, req request) Outcome {
	out := Outcome{
		Kind:    OutcomeDuplicate,
		Message: fmt.Sprintf("%s already running for tenant %s", req.jobType, req.tenantID),
	}
	if runID, ok := o.guard.Holder(req.tenantID, req.jobType); ok {
		out.ExistingRunID = runID
		return out
	}
	// The holder has not bound its run yet; fall back to the store
	if running, err := o.runs.ListRunningByType(ctx, req.tenantID, req.jobType); err == nil && len(running) > 0 {
		out.ExistingRunID = running[0].ID
	}
	return out
}

// runHandler turns a handler panic into a run failure
func (o *Orchestrator) runHandler(ctx context.Context, h crawl.Handler, task crawl.Task, report crawl.ProgressFunc) (result *crawl.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorw("Handler panicked",
				logger.FieldRunID, task.RunID,
				logger.FieldJobType, task.JobType,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			result = nil
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return h.Run(ctx, task, report)
}

// reporter persists and broadcasts progress. Write errors are logged, not
// fatal.
func (o *Orchestrator) reporter(ctx context.Context, runID string, log *zap.SugaredLogger) crawl.ProgressFunc {
	ctx = context.WithoutCancel(ctx)
	var revise sync.Once
	return func(stage string, processed, total int) {
		// The first report carries the handler's real item count, which
		// replaces the estimate.
		revise.Do(func() {
			if _, err := o.runs.ReviseTotal(ctx, runID, total); err != nil {
				log.Warnw("Failed to revise item total", logger.FieldError, err)
			}
		})
		live, err := o.runs.UpdateProgress(ctx, runID, stage, processed, total)
		if err != nil {
			log.Warnw("Failed to update progress",
				logger.FieldStage, stage,
				logger.FieldError, err)
			return
		}
		if live && o.broadcaster != nil {
			o.broadcaster.BroadcastRunProgress(runID, stage, Progress{Processed: processed, Total: total})
		}
	}
}

func (o *Orchestrator) logOutcome(out Outcome, tenantID string, jobType crawl.JobType) {
	log := o.logger.With(
		logger.FieldTenantID, tenantID,
		logger.FieldJobType, jobType,
		logger.FieldRunID, out.RunID,
		logger.FieldStatus, out.Kind,
	)
	switch out.Kind {
	case OutcomeFailed:
		log.Warnw("Run failed", logger.FieldError, out.Message)
	case OutcomeDuplicate:
		log.Infow("Run rejected, already running", "existing_run_id", out.ExistingRunID)
	default:
		log.Infow("Run finished", "message", out.Message)
	}
}
