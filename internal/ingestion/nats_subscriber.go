package ingestion

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ammcore/internal/config"
	"ammcore/internal/engine"
	"ammcore/internal/op"
)

// Handler consumes one parsed operation. It returns nil to ack,
// engine.ErrSkip to ack a duplicate, and engine.ErrSequenceGap (or any other
// error) to trigger redelivery.
type Handler func(ctx context.Context, operation op.Operation) error

// Metrics is the slice of instrumentation the subscriber drives.
type Metrics interface {
	IngestParseFailure()
}

// Subscriber pulls operations from the JetStream ops stream and feeds them to
// the engine in stream order. One subscriber, one consumer goroutine; the
// engine's single-threaded contract depends on that.
type Subscriber struct {
	js      jetstream.JetStream
	cfg     config.NATSConfig
	log     zerolog.Logger
	metrics Metrics
}

func NewSubscriber(nc *nats.Conn, cfg config.NATSConfig, log zerolog.Logger, metrics Metrics) (*Subscriber, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		js:      js,
		cfg:     cfg,
		log:     log.With().Str("component", "ingestion").Logger(),
		metrics: metrics,
	}, nil
}

// EnsureStream creates the ops stream if it does not exist yet.
func (s *Subscriber) EnsureStream(ctx context.Context) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      s.cfg.OpsStream,
		Subjects:  []string{s.cfg.OpsSubject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	return err
}

// Run consumes messages until ctx is canceled. Messages that cannot be parsed
// are terminated (poison, no redelivery); engine skips are acked; everything
// else that fails is nak'd for redelivery in order.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.OpsStream, jetstream.ConsumerConfig{
		Durable:       s.cfg.Durable,
		FilterSubject: s.cfg.OpsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: 1,
	})
	if err != nil {
		return err
	}

	iter, err := cons.Messages()
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			return err
		}

		parsed, err := ParseOperation(msg.Data())
		if err != nil {
			s.metrics.IngestParseFailure()
			s.log.Error().Err(err).Str("subject", msg.Subject()).Msg("unparseable message terminated")
			if termErr := msg.Term(); termErr != nil {
				s.log.Error().Err(termErr).Msg("term failed")
			}
			continue
		}

		switch err := handle(ctx, parsed); {
		case err == nil, errors.Is(err, engine.ErrSkip):
			if ackErr := msg.Ack(); ackErr != nil {
				s.log.Error().Err(ackErr).Msg("ack failed")
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			_ = msg.Nak()
			return err
		default:
			s.log.Warn().Err(err).
				Str("op_type", string(parsed.OpType())).
				Msg("operation nak'd for redelivery")
			if nakErr := msg.Nak(); nakErr != nil {
				s.log.Error().Err(nakErr).Msg("nak failed")
			}
		}
	}
}
