package pipeline

import (
	"context"
	"io"
	"sync"

	"quorum/internal/logging"
	"quorum/internal/stream"
)

// Controller enforces the one-live-run policy. Starting a new stream or
// adopting a restored transcript first cancels the previous run's consumer
// loop and waits for it to exit, so a stale loop can never mutate state that
// belongs to a newer run.
type Controller struct {
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	run    *Run
}

func NewController(logger logging.Logger) *Controller {
	return &Controller{logger: logging.OrNop(logger)}
}

// Current returns the live (or last) run, nil before the first one.
func (c *Controller) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// Stream consumes one run's event stream from body into a fresh run,
// reporting progress to sink. It blocks until the stream ends or ctx is
// cancelled; cancellation leaves the run in its last consistent partial
// state and returns it with a nil error.
func (c *Controller) Stream(ctx context.Context, body io.ReadCloser, sink Sink) (*Run, error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	run := NewRun()

	c.begin(cancel, done, run)
	defer close(done)

	tracker := NewTracker(run, sink, c.logger)
	consumer := stream.NewConsumer(tracker, c.logger)
	if err := consumer.Consume(runCtx, body); err != nil {
		return run, err
	}
	return run, nil
}

// Adopt installs a restored run as the current one, cancelling any active
// stream first. Replay never interleaves with a live run.
func (c *Controller) Adopt(run *Run) {
	c.begin(nil, nil, run)
}

// Cancel stops the active stream, if any, and waits for its loop to exit.
func (c *Controller) Cancel() {
	c.begin(nil, nil, nil)
}

func (c *Controller) begin(cancel context.CancelFunc, done chan struct{}, run *Run) {
	c.mu.Lock()
	prevCancel, prevDone := c.cancel, c.done
	c.cancel, c.done = cancel, done
	if run != nil {
		// Partial state from a cancelled run stays current and displayable
		// until a new run replaces it.
		c.run = run
	}
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}
}
