// Package miner drives the fetch, compute, submit cycle against the
// coordinator. A failing cycle is logged and the loop starts over; nothing a
// single cycle does can stop the process.
package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/haormj/daitcore/accelerated"
	"github.com/haormj/daitcore/matrix"
	"github.com/haormj/daitcore/protocol"
)

type Fetcher interface {
	FetchAssignment(ctx context.Context, identity string, dims protocol.Dims) (protocol.Assignment, error)
}

type Multiplier interface {
	Multiply(a, b matrix.Matrix) (matrix.Matrix, error)
}

type Submitter interface {
	SubmitResult(ctx context.Context, taskID string, result matrix.Matrix, identity string) (protocol.Ack, error)
}

type State int

const (
	Idle State = iota
	Fetching
	Computing
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Computing:
		return "computing"
	case Submitting:
		return "submitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Outcome int

const (
	Completed Outcome = iota
	NoWork
	FetchFailed
	DimensionMismatch
	DeviceError
	SubmitFailed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case NoWork:
		return "no_work"
	case FetchFailed:
		return "fetch_failed"
	case DimensionMismatch:
		return "dimension_mismatch"
	case DeviceError:
		return "device_error"
	case SubmitFailed:
		return "submit_failed"
	default:
		return "failed"
	}
}

// CycleOutcome reports how one fetch/compute/submit pass ended.
type CycleOutcome struct {
	ID      string
	TaskID  string
	Outcome Outcome
	Err     error
	Ack     protocol.Ack
}

type Stats struct {
	Cycles            int
	Completed         int
	NoWork            int
	FetchFailed       int
	DimensionMismatch int
	DeviceError       int
	SubmitFailed      int
	Failed            int
}

type Config struct {
	Identity string
	Dims     protocol.Dims
	Backoff  Backoff
	Logger   *slog.Logger

	// OnState, when set, observes every state transition.
	OnState func(State)

	// Sleep replaces the context-aware timer between cycles.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Loop struct {
	fetcher    Fetcher
	multiplier Multiplier
	submitter  Submitter
	cfg        Config
	logger     *slog.Logger

	backoff backoff.BackOff

	mu    sync.Mutex
	state State
	stats Stats
}

func New(f Fetcher, m Multiplier, s Submitter, cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}

	return &Loop{
		fetcher:    f,
		multiplier: m,
		submitter:  s,
		cfg:        cfg,
		logger:     logger,
		backoff:    cfg.Backoff.Policy(),
	}
}

// Run repeats cycles until ctx is cancelled and returns ctx's error.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out := l.RunOnce(ctx)

		var wait time.Duration
		if out.Outcome == Completed {
			l.backoff.Reset()
		} else {
			wait = l.backoff.NextBackOff()
		}

		if err := l.cfg.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunOnce executes a single cycle. Errors and panics are folded into the
// returned outcome.
func (l *Loop) RunOnce(ctx context.Context) (out CycleOutcome) {
	out.ID = uuid.NewString()
	logger := l.logger.With(slog.String("cycle", out.ID))

	defer func() {
		if r := recover(); r != nil {
			out.Outcome = Failed
			out.Err = fmt.Errorf("miner: cycle panicked: %v", r)
		}

		l.setState(Idle)
		l.record(out.Outcome)
		l.log(logger, out)
	}()

	l.setState(Fetching)

	task, err := l.fetcher.FetchAssignment(ctx, l.cfg.Identity, l.cfg.Dims)
	if err != nil {
		out.Outcome, out.Err = classify(err, FetchFailed), err
		return out
	}

	if task.Empty() {
		out.Outcome = NoWork
		return out
	}

	out.TaskID = task.TaskID
	logger.Info("task fetched, awaiting results", slog.String("task", task.TaskID),
		slog.String("a", task.A.Shape()), slog.String("b", task.B.Shape()))

	l.setState(Computing)

	result, err := l.multiplier.Multiply(task.A, task.B)
	if err != nil {
		out.Outcome, out.Err = classify(err, Failed), err
		return out
	}

	l.setState(Submitting)

	out.Ack, err = l.submitter.SubmitResult(ctx, task.TaskID, result, l.cfg.Identity)
	if err != nil {
		out.Outcome, out.Err = classify(err, SubmitFailed), err
		return out
	}

	out.Outcome = Completed

	return out
}

func classify(err error, fallback Outcome) Outcome {
	switch {
	case errors.Is(err, protocol.ErrFetchFailed):
		return FetchFailed
	case errors.Is(err, matrix.ErrDimensionMismatch):
		return DimensionMismatch
	case errors.Is(err, accelerated.ErrDevice):
		return DeviceError
	case errors.Is(err, protocol.ErrSubmitFailed):
		return SubmitFailed
	default:
		return fallback
	}
}

func (l *Loop) log(logger *slog.Logger, out CycleOutcome) {
	attrs := []any{slog.String("outcome", out.Outcome.String())}
	if out.TaskID != "" {
		attrs = append(attrs, slog.String("task", out.TaskID))
	}

	switch out.Outcome {
	case Completed:
		attrs = append(attrs, slog.Int("status", out.Ack.Status), slog.String("ack", out.Ack.Body))
		logger.Info("results submitted, waiting confirmations", attrs...)
	case NoWork:
		logger.Debug("no task available", attrs...)
	default:
		attrs = append(attrs, slog.Any("error", out.Err))
		logger.Error("cycle failed", attrs...)
	}
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()

	if l.cfg.OnState != nil {
		l.cfg.OnState(s)
	}
}

func (l *Loop) record(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Cycles++

	switch o {
	case Completed:
		l.stats.Completed++
	case NoWork:
		l.stats.NoWork++
	case FetchFailed:
		l.stats.FetchFailed++
	case DimensionMismatch:
		l.stats.DimensionMismatch++
	case DeviceError:
		l.stats.DeviceError++
	case SubmitFailed:
		l.stats.SubmitFailed++
	default:
		l.stats.Failed++
	}
}

// State returns the state the loop is currently in.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}
