package server

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fenggwsx/PostBoard/internal/protocol"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

const tracerName = "github.com/fenggwsx/PostBoard/internal/server"

// Broadcaster fans stored posts out to every registered session.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewBroadcaster builds a broadcaster over the registry. Spans go to the
// global tracer provider installed at startup.
func NewBroadcaster(registry *Registry, metrics *Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: metrics, tracer: otel.Tracer(tracerName)}
}

// Broadcast delivers post to every registered session and returns how many
// accepted it. Sessions that cannot accept it are unregistered and closed;
// their failure never reaches the caller.
func (b *Broadcaster) Broadcast(ctx context.Context, post storage.Post) int {
	_, span := b.tracer.Start(ctx, "board.broadcast", trace.WithAttributes(attribute.Int64("post.id", post.ID)))
	defer span.End()
	started := time.Now()

	frame, err := protocol.EncodePost(post)
	if err != nil {
		log.Printf("broadcast encode id=%d err=%v", post.ID, err)
		span.SetStatus(codes.Error, err.Error())
		return 0
	}

	delivered := 0
	failures := b.registry.ForEach(func(s *Session) error {
		if err := s.Deliver(post.ID, frame); err != nil {
			return err
		}
		delivered++
		return nil
	})

	for _, failure := range failures {
		if b.registry.Unregister(failure.Session) {
			log.Printf("session dropped id=%s remote=%s post=%d err=%v", failure.Session.ID(), failure.Session.RemoteAddr(), post.ID, failure.Err)
		}
		failure.Session.close()
	}

	b.metrics.delivered(delivered, len(failures), time.Since(started).Seconds())
	span.SetAttributes(
		attribute.Int("broadcast.delivered", delivered),
		attribute.Int("broadcast.failed", len(failures)),
	)
	return delivered
}
