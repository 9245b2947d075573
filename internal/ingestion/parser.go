package ingestion

import (
	"encoding/json"

	"github.com/google/uuid"

	"ammcore/internal/amm"
	"ammcore/internal/op"
)

// envelope is the wire frame for operations: a type discriminator plus the
// raw payload for that type.
type envelope struct {
	Type    op.Type         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseOperation decodes one message body into a typed operation. The payload
// schema is the JSON form of the corresponding op struct.
func ParseOperation(data []byte) (op.Operation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, amm.ErrInvalidAmount.Wrapf("malformed envelope: %v", err)
	}

	decode := func(target any) error {
		if err := json.Unmarshal(env.Payload, target); err != nil {
			return amm.ErrInvalidAmount.Wrapf("malformed %s payload: %v", env.Type, err)
		}
		return nil
	}

	var parsed op.Operation
	switch env.Type {
	case op.TypeCreatePool:
		var o op.CreatePool
		if err := decode(&o); err != nil {
			return nil, err
		}
		parsed = o
	case op.TypeDeposit:
		var o op.Deposit
		if err := decode(&o); err != nil {
			return nil, err
		}
		parsed = o
	case op.TypeWithdraw:
		var o op.Withdraw
		if err := decode(&o); err != nil {
			return nil, err
		}
		parsed = o
	case op.TypeSwap:
		var o op.Swap
		if err := decode(&o); err != nil {
			return nil, err
		}
		parsed = o
	case op.TypeSetLocked:
		var o op.SetLocked
		if err := decode(&o); err != nil {
			return nil, err
		}
		parsed = o
	default:
		return nil, amm.ErrInvalidAmount.Wrapf("unknown operation type %q", env.Type)
	}

	if parsed.Key() == uuid.Nil {
		return nil, amm.ErrInvalidAmount.Wrap("missing idempotency key")
	}
	if parsed.Sequence() == 0 {
		return nil, amm.ErrInvalidAmount.Wrap("missing source sequence")
	}
	return parsed, nil
}

// EncodeOperation frames an operation for publishing. Inverse of
// ParseOperation; used by the HTTP submission endpoint and by tests.
func EncodeOperation(operation op.Operation) ([]byte, error) {
	payload, err := json.Marshal(operation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: operation.OpType(), Payload: payload})
}
