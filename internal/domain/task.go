package domain

import "encoding/json"

// TaskKind names the stable wire payload shapes a task can carry, used
// for metrics labeling and task name conventions; it is not persisted
// as a column in its own right (the payload's shape is implicit in the
// task name prefix).
type TaskKind string

const (
	TaskKindSegment  TaskKind = "segment"
	TaskKindJoin     TaskKind = "join"
	TaskKindResolve  TaskKind = "resolve"
	TaskKindFinalize TaskKind = "finalize"
	TaskKindSnark    TaskKind = "snark"
	TaskKindKeccak   TaskKind = "keccak"
)

// Task is a persisted work unit in the Task DB. Prerequisite names must
// reference tasks already created in the same job; no forward references.
type Task struct {
	JobID      string
	Name       string // unique within job
	Stream     Stream
	Payload    json.RawMessage
	Prereqs    []string
	Retries    int
	Timeout    int // seconds
}

// ProvePayload is the task-type payload for a Segment task. It carries the
// VM-assigned segment index, not the Planner's internal task number.
type ProvePayload struct {
	Index int `json:"index"`
}

// JoinPayload is the task-type payload for a Join task.
type JoinPayload struct {
	Idx   uint64 `json:"idx"`
	Left  uint64 `json:"left"`
	Right uint64 `json:"right"`
}

// ResolvePayload is the task-type payload for the Resolve sub-protocol
// task that attaches assumption and keccak proofs to the core proof.
type ResolvePayload struct {
	MaxIdx uint64 `json:"max_idx"`
}

// FinalizePayload is the task-type payload for the terminal Finalize task.
type FinalizePayload struct {
	MaxIdx uint64 `json:"max_idx"`
}

// SnarkPayload is the task-type payload for the optional post-processing
// step that converts the final receipt into a compact/succinct form.
type SnarkPayload struct {
	Receipt      string           `json:"receipt"`
	CompressType CompressionLevel `json:"compress_type"`
}

// KeccakPayload is the task-type payload for a coprocessor task. Input
// bytes are never embedded here; they are staged in the Hot Cache and
// referenced by claim digest.
type KeccakPayload struct {
	ClaimDigest string `json:"claim_digest"`
	ControlRoot string `json:"control_root"`
	Po2         uint32 `json:"po2"`
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("domain: marshal task payload: " + err.Error())
	}
	return b
}
