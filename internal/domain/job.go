// Package domain holds the data types shared across the execution &
// planning pipeline (EPP) and the expiry reconciliation service (ERS).
// Types here carry no behavior beyond small invariant checks; the
// components in internal/epp and internal/ers own the logic.
package domain

import "encoding/json"

// CompressionLevel is the desired final compression of a job's receipt.
type CompressionLevel string

const (
	CompressionNone     CompressionLevel = "none"
	CompressionCompact  CompressionLevel = "compact"
	CompressionSuccinct CompressionLevel = "succinct"
)

func (c CompressionLevel) Valid() bool {
	switch c {
	case CompressionNone, CompressionCompact, CompressionSuccinct:
		return true
	}
	return false
}

// Job describes a single execution request handed to the Orchestrator.
// It is owned by the Orchestrator for the duration of one Run call and
// released once the Summary is returned.
type Job struct {
	ID          string
	UserID      string
	ImageKey    string // blob store key identifying the program bytes / claimed image id
	InputKey    string // blob store key for guest input bytes
	Assumptions []string // assumption receipt ids, resolved via receipts/stark/{id}.bincode
	CycleLimit  uint64   // per-job execution-cycle limit, in units of 2^20 cycles; 0 means unset
	Compress    CompressionLevel
	Preflight   bool // execute_only mode: extract journal, skip proving tasks
}

// EffectiveCycleLimit applies the min(global, per-job) policy from the
// Orchestrator contract. A zero value means "no limit".
func EffectiveCycleLimit(globalLimit, perJobLimit uint64) uint64 {
	if perJobLimit == 0 {
		return globalLimit
	}
	if globalLimit == 0 {
		return perJobLimit
	}
	if perJobLimit < globalLimit {
		return perJobLimit
	}
	return globalLimit
}

// Stream identifies a Task DB work queue that routes to a specific worker
// pool.
type Stream string

const (
	StreamAUX    Stream = "AUX"
	StreamPROVE  Stream = "PROVE"
	StreamJOIN   Stream = "JOIN"
	StreamCOPROC Stream = "COPROC"
	StreamSNARK  Stream = "SNARK"
)

// StreamPolicy resolves the four derived streams (JOIN, COPROC default to
// PROVE unless the deployment enables explicit stream selection; SNARK and
// AUX are always distinct).
type StreamPolicy struct {
	ExplicitStreams bool
}

// Resolve returns the stream to use for a given logical work type.
func (p StreamPolicy) Resolve(workType Stream) Stream {
	switch workType {
	case StreamJOIN, StreamCOPROC:
		if !p.ExplicitStreams {
			return StreamPROVE
		}
		return workType
	default:
		return workType
	}
}

// ReceiptVariant distinguishes the inner variant of an assumption receipt.
type ReceiptVariant string

const (
	ReceiptVariantSuccinct ReceiptVariant = "succinct"
	ReceiptVariantComposite ReceiptVariant = "composite"
	ReceiptVariantFake     ReceiptVariant = "fake"
)

// AssumptionReceipt is an opaque receipt proving a prior computation. Only
// the succinct variant is accepted by the Orchestrator; any other variant
// is a fatal ValidationError.
type AssumptionReceipt struct {
	ClaimDigest string
	Variant     ReceiptVariant
	Bytes       []byte
}

// assumptionReceiptWire is the on-disk shape of a blob stored at
// receipts/stark/{id}.bincode, despite the extension: the blob is a JSON
// envelope around the opaque receipt bytes, not a raw bincode dump.
type assumptionReceiptWire struct {
	ClaimDigest string         `json:"claim_digest"`
	Variant     ReceiptVariant `json:"variant"`
	Bytes       []byte         `json:"bytes"`
}

// DecodeAssumptionReceipt deserializes one assumption receipt blob. It
// does not validate the variant; callers check Variant against
// ReceiptVariantSuccinct per the Orchestrator's precondition.
func DecodeAssumptionReceipt(raw []byte) (AssumptionReceipt, error) {
	var w assumptionReceiptWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return AssumptionReceipt{}, err
	}
	return AssumptionReceipt{ClaimDigest: w.ClaimDigest, Variant: w.Variant, Bytes: w.Bytes}, nil
}

// SessionSummary is returned by the VM Executor on successful termination.
type SessionSummary struct {
	SegmentCount int
	UserCycles   uint64
	TotalCycles  uint64
	Journal      []byte // absent on normal termination is logged, not fatal
}

// RunResult is the Orchestrator's return value for one job.
type RunResult struct {
	Segments        int
	UserCycles      uint64
	TotalCycles     uint64
	AssumptionCount int
}
