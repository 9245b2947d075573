package engine

// SeqResult classifies an incoming sequence number against the partition's
// cursor.
type SeqResult int

const (
	// SeqOK means the number is the expected next position.
	SeqOK SeqResult = iota
	// SeqStale means the number was already consumed; the operation is a
	// redelivery and should be acked without processing.
	SeqStale
	// SeqGap means positions were skipped. Processing must stop so the
	// missing operations can be redelivered in order.
	SeqGap
)

// SequenceValidator enforces gapless per-partition ordering. Partitions are
// pool IDs plus one global partition; each starts at sequence 1.
type SequenceValidator struct {
	next map[string]uint64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{next: make(map[string]uint64)}
}

// Check classifies seq for partition without consuming it.
func (v *SequenceValidator) Check(partition string, seq uint64) SeqResult {
	expected := v.next[partition]
	if expected == 0 {
		expected = 1
	}
	switch {
	case seq == expected:
		return SeqOK
	case seq < expected:
		return SeqStale
	default:
		return SeqGap
	}
}

// Consume advances the partition cursor past seq. Call only after Check
// returned SeqOK.
func (v *SequenceValidator) Consume(partition string, seq uint64) {
	v.next[partition] = seq + 1
}

// Expected returns the next sequence the partition will accept.
func (v *SequenceValidator) Expected(partition string) uint64 {
	if n := v.next[partition]; n != 0 {
		return n
	}
	return 1
}

// Cursors returns a copy of every partition cursor. Snapshot path.
func (v *SequenceValidator) Cursors() map[string]uint64 {
	out := make(map[string]uint64, len(v.next))
	for k, n := range v.next {
		out[k] = n
	}
	return out
}

// Restore replaces the cursors wholesale. Snapshot recovery path.
func (v *SequenceValidator) Restore(cursors map[string]uint64) {
	v.next = make(map[string]uint64, len(cursors))
	for k, n := range cursors {
		v.next[k] = n
	}
}
