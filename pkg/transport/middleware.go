package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/chorus/pkg/api"
)

// Middleware wraps a RoundCreator. In a chain the first middleware is the
// outermost wrapper.
type Middleware func(RoundCreator) RoundCreator

// Chain composes middleware: Chain(a, b, c) produces a(b(c(handler))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next RoundCreator) RoundCreator {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the submission's request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID attaches a request ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// NewRequestID generates a request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestID makes sure every submission carries a request ID. An ID taken
// from the X-Request-ID header is kept.
func RequestID() Middleware {
	return func(next RoundCreator) RoundCreator {
		return RoundCreatorFunc(func(ctx context.Context, req *api.CreateRoundRequest, w RoundWriter) error {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, NewRequestID())
			}
			return next.CreateRound(ctx, req, w)
		})
	}
}

// Recovery turns a panic in a round handler into a server error.
func Recovery() Middleware {
	return func(next RoundCreator) RoundCreator {
		return RoundCreatorFunc(func(ctx context.Context, req *api.CreateRoundRequest, w RoundWriter) (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("round handler panicked", "request_id", RequestIDFromContext(ctx), "panic", r)
					err = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.CreateRound(ctx, req, w)
		})
	}
}

// Logging emits one entry per submission. Besides the request ID, query
// size and duration it records the round ID and the final round status as
// seen on the writer.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next RoundCreator) RoundCreator {
		return RoundCreatorFunc(func(ctx context.Context, req *api.CreateRoundRequest, w RoundWriter) error {
			start := time.Now()
			ow := &observedWriter{RoundWriter: w}

			err := next.CreateRound(ctx, req, ow)

			round, status := ow.summary()
			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("round", round),
				slog.String("status", status),
				slog.Int("query_bytes", len(req.Query)),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "round submission failed", attrs...)
				return err
			}
			logger.LogAttrs(ctx, slog.LevelInfo, "round submission completed", attrs...)
			return nil
		})
	}
}

// observedWriter remembers the round ID and terminal status passing
// through a RoundWriter.
type observedWriter struct {
	RoundWriter

	mu     sync.Mutex
	round  string
	status string
}

func (o *observedWriter) WriteEvent(ctx context.Context, ev api.RoundEvent) error {
	o.mu.Lock()
	if o.round == "" {
		o.round = ev.RoundID
	}
	switch ev.Type {
	case api.EventRoundCompleted:
		o.status = string(api.RoundStatusCompleted)
	case api.EventRoundCancelled:
		o.status = string(api.RoundStatusCancelled)
	case api.EventRoundError:
		o.status = "error"
	}
	o.mu.Unlock()
	return o.RoundWriter.WriteEvent(ctx, ev)
}

func (o *observedWriter) WriteRound(ctx context.Context, record *api.RoundRecord) error {
	if record != nil {
		o.mu.Lock()
		o.round, o.status = record.ID, string(record.Status)
		o.mu.Unlock()
	}
	return o.RoundWriter.WriteRound(ctx, record)
}

func (o *observedWriter) summary() (round, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.round, o.status
}
