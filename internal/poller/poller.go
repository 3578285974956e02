// Package poller waits for external conversion jobs to reach a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// ErrTimeout is returned when jobs are still running once Config.Timeout has elapsed.
var ErrTimeout = errors.New("timed out waiting for jobs")

// StatusSource reports the current state of an external job.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (models.JobStatus, error)
}

// Config is the polling policy.
type Config struct {
	// Interval is the wait before the second round of status requests.
	Interval time.Duration
	// MaxInterval caps the backoff between rounds.
	MaxInterval time.Duration
	// Multiplier grows the interval after every round that left jobs running.
	Multiplier float64
	// Timeout bounds a whole Await/AwaitAll call. Zero means only ctx bounds it.
	Timeout time.Duration
	// RequestsPerSecond caps status requests across every caller sharing the Poller.
	RequestsPerSecond float64
	// MaxStatusErrors is how many consecutive failed status requests turn a job FAILED.
	MaxStatusErrors int
}

// DefaultConfig returns the production polling policy.
func DefaultConfig() Config {
	return Config{
		Interval:          2 * time.Second,
		MaxInterval:       30 * time.Second,
		Multiplier:        1.5,
		Timeout:           30 * time.Minute,
		RequestsPerSecond: 5,
		MaxStatusErrors:   3,
	}
}

// Result partitions the polled ids by the last state observed.
type Result struct {
	Completed []models.JobStatus
	Failed    []models.JobStatus
	Running   []models.JobStatus
}

// Poller polls a StatusSource. It is safe for concurrent use.
type Poller struct {
	source  StatusSource
	config  Config
	limiter *rate.Limiter
}

// New creates a Poller. Zero fields of cfg fall back to DefaultConfig.
func New(source StatusSource, cfg Config) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxStatusErrors <= 0 {
		cfg.MaxStatusErrors = def.MaxStatusErrors
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Poller{source: source, config: cfg, limiter: limiter}
}

// Await blocks until the job is COMPLETED or FAILED. On timeout or cancellation it
// returns the last observed status together with the error.
func (p *Poller) Await(ctx context.Context, jobID string) (models.JobStatus, error) {
	res, err := p.AwaitAll(ctx, []string{jobID})
	switch {
	case len(res.Completed) == 1:
		return res.Completed[0], nil
	case len(res.Failed) == 1:
		return res.Failed[0], nil
	case len(res.Running) == 1:
		return res.Running[0], err
	}
	return models.JobStatus{JobID: jobID, State: models.JobRunning}, err
}

// AwaitAll polls every id until each one is terminal. Ids leave the outstanding set the
// moment they are seen COMPLETED or FAILED. The three slices of the result always
// partition jobIDs; ids still outstanding when the wait is cut short are in Running.
func (p *Poller) AwaitAll(ctx context.Context, jobIDs []string) (Result, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	defer func() { pollDuration.Observe(time.Since(started).Seconds()) }()

	var res Result
	outstanding := make([]string, 0, len(jobIDs))
	seen := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		if !seen[id] {
			seen[id] = true
			outstanding = append(outstanding, id)
		}
	}
	last := make(map[string]models.JobStatus, len(outstanding))
	errCount := make(map[string]int)
	interval := p.config.Interval

	for round := 1; ; round++ {
		var running []string
		for i, id := range outstanding {
			if err := p.limiter.Wait(ctx); err != nil {
				if ctx.Err() == nil {
					// the limiter refuses waits that would outlive the deadline
					err = context.DeadlineExceeded
				}
				return p.cutShort(res, append(running, outstanding[i:]...), last, err)
			}

			status, err := p.source.Status(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return p.cutShort(res, append(running, outstanding[i:]...), last, ctx.Err())
				}
				errCount[id]++
				slog.Warn("Job status request failed.", "jobId", id, "attempt", errCount[id], "error", err)
				if errCount[id] >= p.config.MaxStatusErrors {
					res.Failed = append(res.Failed, models.JobStatus{
						JobID: id,
						State: models.JobFailed,
						Error: fmt.Sprintf("status unavailable after %d attempts: %v", errCount[id], err),
					})
					continue
				}
				running = append(running, id)
				continue
			}
			errCount[id] = 0
			status.JobID = id
			last[id] = status

			switch status.State {
			case models.JobCompleted:
				res.Completed = append(res.Completed, status)
			case models.JobFailed:
				res.Failed = append(res.Failed, status)
			default:
				running = append(running, id)
			}
		}
		outstanding = running
		pollRounds.Inc()

		if len(outstanding) == 0 {
			return res, nil
		}
		slog.Debug("Jobs still running.", "round", round, "running", len(outstanding), "next", interval.String())

		select {
		case <-time.After(interval):
			interval = time.Duration(float64(interval) * p.config.Multiplier)
			if interval > p.config.MaxInterval {
				interval = p.config.MaxInterval
			}
		case <-ctx.Done():
			return p.cutShort(res, outstanding, last, ctx.Err())
		}
	}
}

func (p *Poller) cutShort(res Result, outstanding []string, last map[string]models.JobStatus, cause error) (Result, error) {
	for _, id := range outstanding {
		status, ok := last[id]
		if !ok {
			status = models.JobStatus{JobID: id}
		}
		status.State = models.JobRunning
		res.Running = append(res.Running, status)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return res, fmt.Errorf("%w: %d job(s) still running", ErrTimeout, len(outstanding))
	}
	return res, cause
}
