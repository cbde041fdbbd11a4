package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
	"github.com/laps-group/laps-go/diag"
	"github.com/laps-group/laps-go/mapdata"
	"github.com/laps-group/laps-go/result"
)

// Timeouts for broker pushes that must outlive the run context.
const (
	reportTimeout   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// State is the lifecycle state of a runner.
type State int32

const (
	// StateIdle means the runner has not started yet.
	StateIdle State = iota
	// StateBlocking means the runner is waiting on the job queue.
	StateBlocking
	// StateProcessing means a handler call is in flight.
	StateProcessing
	// StateTerminated means the loop has exited.
	StateTerminated
)

// String returns the state name for logs and tests.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBlocking:
		return "blocking"
	case StateProcessing:
		return "processing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a module worker.
type Options struct {
	// Config describes the module identity and broker connection.
	// Required.
	Config *Config

	// Handler processes each dequeued job. Required.
	Handler Handler

	// Broker overrides the connection dialed from Config. When set,
	// the caller keeps ownership and the runner will not close it.
	Broker broker.Client

	// Console receives mirrored log lines. Defaults to stdout.
	Console io.Writer
}

// Runner is a single-job-at-a-time worker bound to one module identity.
type Runner struct {
	cfg     *Config
	ident   laps.Identity
	handler Handler

	broker     broker.Client
	ownsBroker bool

	diag     *diag.Channel
	reporter *result.Reporter
	maps     *mapdata.Store

	workKey string

	state      atomic.Int32
	started    atomic.Bool
	registered bool
}

// New creates a runner from the given options without starting it.
func New(opts Options) (*Runner, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}

	b := opts.Broker
	ownsBroker := false
	if b == nil {
		var err error
		b, err = broker.New(opts.Config.GetRedisURL())
		if err != nil {
			return nil, err
		}
		ownsBroker = true
	}

	ident := opts.Config.Identity()

	return &Runner{
		cfg:        opts.Config,
		ident:      ident,
		handler:    opts.Handler,
		broker:     b,
		ownsBroker: ownsBroker,
		diag:       diag.New(b, ident, opts.Config.TestMode, opts.Console),
		reporter:   result.NewReporter(b, opts.Config.TestMode),
		maps:       mapdata.New(b, opts.Config.TestMode),
		workKey:    laps.WorkKey(opts.Config.Name, opts.Config.Version, opts.Config.TestMode),
	}, nil
}

// Run builds a runner from opts and serves jobs until shutdown.
func Run(ctx context.Context, opts Options) error {
	r, err := New(opts)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

// Identity returns the module identity the runner serves.
func (r *Runner) Identity() laps.Identity {
	return r.ident
}

// TestMode reports whether the runner uses test-mode keys.
func (r *Runner) TestMode() bool {
	return r.cfg.TestMode
}

// MapData returns the shared map store for handlers.
func (r *Runner) MapData() *mapdata.Store {
	return r.maps
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// LogDebugf emits a debug record on the diagnostics channel.
func (r *Runner) LogDebugf(format string, args ...any) error {
	return r.diag.Debugf(format, args...)
}

// LogInfof emits an info record on the diagnostics channel.
func (r *Runner) LogInfof(format string, args ...any) error {
	return r.diag.Infof(format, args...)
}

// LogWarnf emits a warn record on the diagnostics channel.
func (r *Runner) LogWarnf(format string, args ...any) error {
	return r.diag.Warnf(format, args...)
}

// LogErrorf emits an error record on the diagnostics channel.
func (r *Runner) LogErrorf(format string, args ...any) error {
	return r.diag.Errorf(format, args...)
}

// Run registers the module and serves jobs until the context is
// canceled, a shutdown signal arrives, or a fatal error occurs.
// A runner can run only once.
func (r *Runner) Run(ctx context.Context) (err error) {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("worker: runner can only run once")
	}

	defer func() {
		r.state.Store(int32(StateTerminated))
		if err != nil {
			_ = r.diag.Errorf("Worker failed: %v", err)
		}
		r.notifyShutdown()
		if r.ownsBroker {
			if cerr := r.broker.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	if err := r.register(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A signal cancels only the loop context: the blocking dequeue
	// aborts immediately, while an in-flight handler keeps the run
	// context and finishes its job.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			_ = r.diag.Infof("Shutdown signal received, shutting down")
			cancel()
		case <-loopCtx.Done():
		}
	}()

	return r.loop(ctx, loopCtx)
}

// register announces the module to the backend. It must succeed before
// the loop starts; the worker must not serve jobs it never announced.
func (r *Runner) register(ctx context.Context) error {
	if r.registered {
		return &laps.RegistrationError{Module: r.ident, Err: laps.ErrAlreadyRegistered}
	}

	token, err := r.ident.Token()
	if err != nil {
		return &laps.RegistrationError{Module: r.ident, Err: err}
	}

	member, err := r.broker.SIsMember(ctx, laps.RegisteredModulesKey(r.cfg.TestMode), token)
	if err != nil {
		return &laps.RegistrationError{Module: r.ident, Err: err}
	}
	if member {
		_ = r.diag.Warnf("Module %s %s is already registered, assuming scale-out", r.ident.Name, r.ident.Version)
	}

	if err := r.broker.RPush(ctx, laps.RegisterKey(r.cfg.TestMode), token); err != nil {
		return &laps.RegistrationError{Module: r.ident, Err: err}
	}
	r.registered = true

	if err := r.diag.Infof("Registered as %s %s", r.ident.Name, r.ident.Version); err != nil {
		return &laps.RegistrationError{Module: r.ident, Err: err}
	}

	return nil
}

// notifyShutdown pushes the shutdown notice to the backend. It runs on
// every exit path after registration, under its own context, so a
// canceled run context cannot suppress the notice.
func (r *Runner) notifyShutdown() {
	if !r.registered {
		return
	}

	token, err := r.ident.Token()
	if err != nil {
		_ = r.diag.Errorf("Failed to send shutdown notice: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := r.broker.RPush(ctx, laps.ShutdownKey(r.cfg.TestMode), token); err != nil {
		_ = r.diag.Errorf("Failed to send shutdown notice: %v", err)
	}
}

// loop serves jobs until the pop context is canceled or a fatal error
// occurs. The result for job N is reported before job N+1 is dequeued.
func (r *Runner) loop(ctx, popCtx context.Context) error {
	for {
		if popCtx.Err() != nil {
			return nil
		}

		r.state.Store(int32(StateBlocking))

		raw, err := r.broker.BRPop(popCtx, 0, r.workKey)
		if err != nil {
			if popCtx.Err() != nil {
				// Shutdown interrupted the blocking dequeue.
				return nil
			}
			return fmt.Errorf("dequeue failed: %w", err)
		}

		r.state.Store(int32(StateProcessing))

		job, err := decodeJob([]byte(raw))
		if err != nil {
			_ = r.diag.Errorf("Failed to decode job envelope: %v", err)
			return err
		}

		if err := r.process(ctx, job); err != nil {
			return err
		}

		if err := r.diag.Err(); err != nil {
			return fmt.Errorf("log channel failed: %w", err)
		}
	}
}

// process runs the handler and reports exactly one result for the job.
func (r *Runner) process(ctx context.Context, job *Job) error {
	_ = r.diag.Infof("Got job %s", job.ID)

	data, handlerErr := r.invoke(ctx, job)

	// Reporting must outlive a canceled run context so the backend
	// always sees an outcome for the dequeued job.
	reportCtx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	switch {
	case handlerErr == nil:
		if err := r.reporter.Report(reportCtx, result.Success(job.ID, data)); err != nil {
			return err
		}
		_ = r.diag.Infof("Completed job %s", job.ID)
		return nil

	case laps.IsJobFailure(handlerErr):
		_ = r.diag.Errorf("Job %s failed: %v", job.ID, handlerErr)
		return r.reporter.Report(reportCtx, result.Failure(job.ID))

	default:
		_ = r.diag.Errorf("Handler failed on job %s: %v", job.ID, handlerErr)
		if err := r.reporter.Report(reportCtx, result.Failure(job.ID)); err != nil {
			return err
		}
		return fmt.Errorf("handler failed on job %s: %w", job.ID, handlerErr)
	}
}

// invoke calls the handler, converting a panic into an unexpected
// error so the failure is still reported before the worker stops.
func (r *Runner) invoke(ctx context.Context, job *Job) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			data = nil
			err = fmt.Errorf("handler panicked on job %s: %v", job.ID, rec)
		}
	}()
	return r.handler(ctx, r, job)
}
