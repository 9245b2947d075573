package ingestion

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ammcore/internal/config"
	"ammcore/internal/op"
)

// Publisher emits receipts to the receipts stream and accepts externally
// submitted operations onto the ops stream.
type Publisher struct {
	js  jetstream.JetStream
	cfg config.NATSConfig
	log zerolog.Logger
}

func NewPublisher(nc *nats.Conn, cfg config.NATSConfig, log zerolog.Logger) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		js:  js,
		cfg: cfg,
		log: log.With().Str("component", "publisher").Logger(),
	}, nil
}

// EnsureStream creates the receipts stream if it does not exist yet.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      p.cfg.ReceiptsStream,
		Subjects:  []string{p.cfg.ReceiptSubject},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	return err
}

// PublishReceipt emits one receipt. The receipt ID doubles as the JetStream
// message ID, so redelivered publishes deduplicate server-side.
func (p *Publisher) PublishReceipt(ctx context.Context, r op.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(ctx, p.cfg.ReceiptSubject, body,
		jetstream.WithMsgID(r.ReceiptID.String()))
	return err
}

// PublishOperation frames and enqueues an operation for the engine. Used by
// the HTTP submission endpoint; the idempotency key doubles as the message ID.
func (p *Publisher) PublishOperation(ctx context.Context, operation op.Operation) error {
	body, err := EncodeOperation(operation)
	if err != nil {
		return err
	}
	subject := "amm.ops." + string(operation.OpType())
	_, err = p.js.Publish(ctx, subject, body,
		jetstream.WithMsgID(operation.Key().String()))
	return err
}
