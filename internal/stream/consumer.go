package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"quorum/internal/logging"
)

// Handler receives decoded events in arrival order. Calls are made from a
// single goroutine, so implementations need no internal locking.
type Handler interface {
	HandleEvent(ev Event)
}

// Consumer drives the single read loop over one run's event stream.
type Consumer struct {
	handler Handler
	logger  logging.Logger
}

func NewConsumer(handler Handler, logger logging.Logger) *Consumer {
	return &Consumer{handler: handler, logger: logging.OrNop(logger)}
}

// Consume reads frames from body until EOF or cancellation and forwards each
// decodable event to the handler. Cancellation closes the body to unblock the
// pending read and returns nil, leaving whatever partial state the handler
// reached untouched. Malformed frames are logged and skipped without
// disturbing the frames that follow them.
func (c *Consumer) Consume(ctx context.Context, body io.ReadCloser) error {
	defer func() { _ = body.Close() }()

	// Closing the body is the only way to interrupt a blocked Read.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	scanner := NewFrameScanner(body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		frame := scanner.Text()
		if strings.TrimSpace(frame) == "" {
			continue
		}
		ev, err := DecodeFrame(frame)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Debug("skipping unrecognized frame: %v", err)
			} else {
				c.logger.Warn("dropping malformed frame: %v", err)
			}
			continue
		}
		c.handler.HandleEvent(ev)
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
