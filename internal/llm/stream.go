package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// ErrChunkTimeout is returned when no event arrives within the idle timeout
var ErrChunkTimeout = errors.New("stream chunk timeout: no data received")

type streamResult struct {
	hasNext bool
	event   anthropic.MessageStreamEventUnion
}

// eventStream makes the SDK's blocking SSE iterator interruptible by
// ctx. idle > 0 additionally bounds the gap between two events.
type eventStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	ctx     context.Context
	results chan streamResult
	idle    time.Duration
	started bool
}

func newEventStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], idle time.Duration) *eventStream {
	return &eventStream{
		stream:  stream,
		ctx:     ctx,
		results: make(chan streamResult, 1),
		idle:    idle,
	}
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	s.started = true

	go func() {
		for {
			hasNext := s.stream.Next()

			var event anthropic.MessageStreamEventUnion
			if hasNext {
				event = s.stream.Current()
			}

			select {
			case s.results <- streamResult{hasNext: hasNext, event: event}:
			case <-s.ctx.Done():
				return
			}
			if !hasNext {
				return
			}
		}
	}()
}

// Next returns (event, more, err). more is false once the stream ends or fails.
func (s *eventStream) Next() (anthropic.MessageStreamEventUnion, bool, error) {
	s.start()

	var timeout <-chan time.Time
	if s.idle > 0 {
		timer := time.NewTimer(s.idle)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-s.results:
		if result.hasNext {
			return result.event, true, nil
		}
		return anthropic.MessageStreamEventUnion{}, false, s.stream.Err()
	case <-s.ctx.Done():
		return anthropic.MessageStreamEventUnion{}, false, s.ctx.Err()
	case <-timeout:
		return anthropic.MessageStreamEventUnion{}, false, ErrChunkTimeout
	}
}
