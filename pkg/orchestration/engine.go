package orchestration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hostpanel/orchestra/pkg/telemetry"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1024
	defaultTimeout   = 5 * time.Minute
)

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// Workers bounds the number of scripts running concurrently.
	Workers int

	// QueueSize is the number of submitted tasks waiting for a worker.
	QueueSize int

	// Timeout is the per-script deadline.
	Timeout time.Duration

	// DisableExecution records logs without dispatching scripts. Logs are closed
	// as REVOKED. Compilation is unaffected.
	DisableExecution bool
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:   defaultWorkers,
		QueueSize: defaultQueueSize,
		Timeout:   defaultTimeout,
	}
}

// Job is a compiled script ready for dispatch.
type Job struct {
	Backend string
	Server  Server
	Script  string

	// Operations are recorded against the log before the task is queued.
	Operations []*BackendOperation
}

// Task is a submitted job. Its log is final once Done is closed.
type Task struct {
	job  Job
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	log BackendLog
}

// ID returns the task id.
func (t *Task) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.log.TaskID
}

// LogID returns the id of the task's BackendLog.
func (t *Task) LogID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.log.ID
}

// Done is closed when the log reached a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Log returns a snapshot of the task's log.
func (t *Task) Log() *BackendLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.log
	return &l
}

// Wait blocks until the task is finished or ctx is done.
func (t *Task) Wait(ctx context.Context) (*BackendLog, error) {
	select {
	case <-t.done:
		return t.Log(), nil
	case <-ctx.Done():
		return t.Log(), ctx.Err()
	}
}

func (t *Task) set(l *BackendLog) {
	t.mu.Lock()
	t.log = *l
	t.mu.Unlock()
}

func (t *Task) finish(l *BackendLog) {
	t.once.Do(func() {
		if l != nil {
			t.set(l)
		}
		close(t.done)
	})
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOperationLog records job operations through the operation log.
func WithOperationLog(oplog *OperationLog) EngineOption {
	return func(e *Engine) { e.oplog = oplog }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *telemetry.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.NewComponentLogger("engine") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEvents publishes state transitions as telemetry events.
func WithEvents(p *telemetry.EventPublisher) EngineOption {
	return func(e *Engine) { e.events = p }
}

// Engine dispatches compiled scripts to servers through a bounded worker pool and
// records each attempt as a BackendLog.
type Engine struct {
	cfg       EngineConfig
	transport Transport
	logs      LogStore
	oplog     *OperationLog
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	events    *telemetry.EventPublisher

	queue     chan *Task
	wg        sync.WaitGroup
	startOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	mu        sync.Mutex
	stopping  atomic.Bool
	stop      chan struct{}
	queued    atomic.Int64
	running   atomic.Int64
	tasks     map[int64]*Task
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// NewEngine creates a new execution engine.
func NewEngine(cfg EngineConfig, transport Transport, logs LogStore, opts ...EngineOption) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		transport: transport,
		logs:      logs,
		logger:    telemetry.NewNopLogger(),
		queue:     make(chan *Task, cfg.QueueSize),
		tasks:     make(map[int64]*Task),
		stop:      make(chan struct{}),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Start launches the worker pool. It is called implicitly by Submit.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.cfg.Workers; i++ {
			e.wg.Add(1)
			go e.worker()
		}
	})
}

// Shutdown stops accepting tasks, revokes the ones still queued and waits for
// running scripts. When ctx expires the running scripts are aborted, their logs
// are closed as ERROR and Shutdown returns ctx.Err().
func (e *Engine) Shutdown(ctx context.Context) error {
	// stop releases submitters blocked on a full queue before the write lock
	if !e.stopping.Swap(true) {
		close(e.stop)
	}
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.closeMu.Unlock()

	e.Start()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

// Execute runs script on server and waits for the terminal log.
func (e *Engine) Execute(ctx context.Context, backend string, server Server, script string) (*BackendLog, error) {
	task, err := e.Submit(ctx, Job{Backend: backend, Server: server, Script: script})
	if err != nil {
		return nil, err
	}
	return task.Wait(ctx)
}

// Submit creates the RECEIVED log, records the job operations and queues the task.
// The returned error only reports failures to create the log; execution outcomes
// are always recorded in the log.
func (e *Engine) Submit(ctx context.Context, job Job) (*Task, error) {
	e.Start()

	log := &BackendLog{
		Backend:   job.Backend,
		Server:    job.Server.Name,
		State:     StateReceived,
		Script:    job.Script,
		TaskID:    uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
	log.UpdatedAt = log.CreatedAt
	if err := e.logs.CreateLog(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to create backend log: %w", err)
	}

	task := &Task{job: job, done: make(chan struct{}), log: *log}
	logger := e.logger.WithFields(map[string]interface{}{
		"log_id":  log.ID,
		"task_id": log.TaskID,
		"backend": job.Backend,
		"server":  job.Server.Name,
	})

	if e.oplog != nil && len(job.Operations) > 0 {
		if err := e.oplog.Record(ctx, log, job.Operations); err != nil {
			logger.WithError(err).Error("Failed to record backend operations")
		}
	}
	e.publish(log, "Backend log received")

	if e.cfg.DisableExecution {
		logger.Warn("Execution is disabled, recording log only")
		e.close(ctx, task, []State{StateReceived}, LogUpdate{
			State:  StateRevoked,
			Stderr: "execution disabled",
		})
		return task, nil
	}

	// the read lock keeps Shutdown from closing the queue under a pending send
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		e.close(ctx, task, []State{StateReceived}, LogUpdate{State: StateRevoked, Stderr: "engine stopped"})
		return task, nil
	}

	e.mu.Lock()
	e.tasks[log.ID] = task
	e.mu.Unlock()

	e.metrics.SetQueueDepth(float64(e.queued.Add(1)))
	select {
	case e.queue <- task:
		logger.Debug("Task queued")
	case <-e.stop:
		e.metrics.SetQueueDepth(float64(e.queued.Add(-1)))
		e.forget(log.ID)
		e.close(ctx, task, []State{StateReceived}, LogUpdate{State: StateRevoked, Stderr: "engine stopped"})
	case <-ctx.Done():
		e.metrics.SetQueueDepth(float64(e.queued.Add(-1)))
		e.forget(log.ID)
		e.close(ctx, task, []State{StateReceived}, LogUpdate{
			State:  StateRevoked,
			Stderr: "submission cancelled: " + ctx.Err().Error(),
		})
	}
	return task, nil
}

// Revoke cancels a queued task. It returns false when the log already left
// RECEIVED; a started script cannot be revoked, only timed out. It works across
// processes since the transition is conditional in the store.
func (e *Engine) Revoke(ctx context.Context, logID int64) (bool, error) {
	ok, err := e.logs.TransitionLog(ctx, logID, []State{StateReceived}, LogUpdate{
		State:  StateRevoked,
		Stderr: "revoked",
	})
	if err != nil {
		return false, fmt.Errorf("failed to revoke log %d: %w", logID, err)
	}
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	task := e.tasks[logID]
	delete(e.tasks, logID)
	e.mu.Unlock()
	if task != nil {
		l := task.Log()
		_ = l.Apply(LogUpdate{State: StateRevoked, Stderr: "revoked"})
		task.finish(l)
	}
	e.metrics.RecordExecution(e.backendOf(task), string(StateRevoked), 0)
	return true, nil
}

func (e *Engine) backendOf(task *Task) string {
	if task == nil {
		return ""
	}
	return task.job.Backend
}

func (e *Engine) forget(logID int64) {
	e.mu.Lock()
	delete(e.tasks, logID)
	e.mu.Unlock()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for task := range e.queue {
		e.metrics.SetQueueDepth(float64(e.queued.Add(-1)))
		e.run(task)
	}
}

// run drives one task from RECEIVED to a terminal state.
func (e *Engine) run(task *Task) {
	ctx := e.baseCtx
	logID := task.LogID()
	defer e.forget(logID)

	if e.stopping.Load() {
		e.close(ctx, task, []State{StateReceived}, LogUpdate{State: StateRevoked, Stderr: "engine stopped"})
		return
	}

	ok, err := e.logs.TransitionLog(context.WithoutCancel(ctx), logID, []State{StateReceived}, LogUpdate{State: StateStarted})
	if err != nil {
		e.logger.WithField("log_id", logID).WithError(err).Error("Failed to mark log started")
		e.close(ctx, task, []State{StateReceived}, LogUpdate{
			State:     StateError,
			Traceback: err.Error(),
		})
		return
	}
	if !ok {
		// revoked while queued
		if current, err := e.logs.GetLog(context.WithoutCancel(ctx), logID); err == nil {
			task.finish(current)
		} else {
			task.finish(nil)
		}
		return
	}
	started := task.Log()
	started.State = StateStarted
	task.set(started)
	e.publish(started, "Backend log started")

	ctx, span := e.tracer.StartSpan(ctx, "engine.execute",
		telemetry.AttrBackend.String(task.job.Backend),
		telemetry.AttrServer.String(task.job.Server.Name),
		telemetry.AttrLogID.Int64(logID),
	)
	defer span.End()

	e.running.Add(1)
	update := e.dispatch(ctx, task.job)
	e.running.Add(-1)

	telemetry.AddLogEvent(span, logID, string(update.State), "script finished")
	if update.State == StateSuccess {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("backend log finished in state %s", update.State))
	}
	e.close(ctx, task, []State{StateStarted}, update)
}

// dispatch runs the script and classifies the outcome.
func (e *Engine) dispatch(ctx context.Context, job Job) (update LogUpdate) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := NewExecutionError("transport panicked", fmt.Errorf("%v", r)).WithCode(ErrCodePanic)
			update = LogUpdate{
				State:         StateError,
				Traceback:     err.Error() + "\n" + string(debug.Stack()),
				ExecutionTime: time.Since(start),
			}
		}
	}()

	res, err := e.transport.Run(execCtx, job.Server, job.Script)
	elapsed := time.Since(start)
	if res == nil {
		res = &ExecResult{}
	}
	update = LogUpdate{
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ExecutionTime: elapsed,
	}

	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		update.State = StateError
		update.Traceback = NewExecutionError("aborted by shutdown", err).
			WithBackend(job.Backend).WithServer(job.Server.Name).Error()
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded)):
		update.State = StateTimeout
		update.Traceback = NewTimeoutError(
			fmt.Sprintf("no exit within %s, remote process state unknown", e.cfg.Timeout), err,
		).WithBackend(job.Backend).WithServer(job.Server.Name).Error()
	case err != nil:
		update.State = StateError
		update.Traceback = NewExecutionError("failed to dispatch script", err).
			WithBackend(job.Backend).WithServer(job.Server.Name).Error()
	case res.ExitCode == 0:
		update.State = StateSuccess
		update.ExitCode = intPtr(0)
	default:
		update.State = StateFailure
		update.ExitCode = intPtr(res.ExitCode)
	}
	return update
}

// close writes a terminal update conditioned on the expected current states and
// finishes the task with whatever the store holds afterwards. The write outlives
// the cancellation of ctx so that a terminal state always reaches the store.
func (e *Engine) close(ctx context.Context, task *Task, from []State, update LogUpdate) {
	ctx = context.WithoutCancel(ctx)
	logID := task.LogID()
	logger := e.logger.WithFields(map[string]interface{}{
		"log_id":  logID,
		"backend": task.job.Backend,
		"server":  task.job.Server.Name,
		"state":   string(update.State),
	})

	ok, err := e.logs.TransitionLog(ctx, logID, from, update)
	if err != nil {
		logger.WithError(err).Error("Failed to persist backend log state")
	}

	l := task.Log()
	if ok {
		if applyErr := l.Apply(update); applyErr != nil {
			logger.WithError(applyErr).Warn("Log snapshot out of sync")
		}
		l.UpdatedAt = time.Now().UTC()
	} else if current, getErr := e.logs.GetLog(ctx, logID); getErr == nil {
		l = current
	}

	e.metrics.RecordExecution(task.job.Backend, string(l.State), l.ExecutionTime)
	switch l.State {
	case StateSuccess:
		logger.Info("Backend log succeeded")
	case StateRevoked:
		logger.Info("Backend log revoked")
	default:
		logger.Warn("Backend log did not succeed")
	}
	e.publish(l, "Backend log finished")
	task.finish(l)
}

func (e *Engine) publish(l *BackendLog, msg string) {
	if e.events == nil {
		return
	}
	_ = e.events.PublishLogStateChanged(l.ID, l.TaskID, l.Backend, l.Server, string(l.State), l.State.IsTerminal(), msg)
}

func intPtr(v int) *int { return &v }
