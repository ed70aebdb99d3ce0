package executor

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// maxMessageSize bounds a single framed message (16MB), matching the
// guest-runner protocol's own limit on journal/segment chunk size.
const maxMessageSize = 16 * 1024 * 1024

const (
	msgTypeStart   = 1
	msgTypeSegment = 2
	msgTypeKeccak  = 3
	msgTypeStdout  = 4
	msgTypeSummary = 5
	msgTypeError   = 6
)

// message is the wire envelope for every frame exchanged with the guest
// runner: a 4-byte big-endian length prefix followed by this JSON body.
type message struct {
	Type    int             `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Program     []byte           `json:"program"`
	Input       []byte           `json:"input"`
	Assumptions []assumptionWire `json:"assumptions,omitempty"`
	CycleLimit  uint64           `json:"cycle_limit"`
	Po2         uint32           `json:"po2"`
}

type assumptionWire struct {
	ClaimDigest string `json:"claim_digest"`
	Variant     string `json:"variant"`
	Bytes       []byte `json:"bytes"`
}

type segmentPayload struct {
	Index int    `json:"index"`
	Body  []byte `json:"body"`
}

type keccakPayload struct {
	ClaimDigest string `json:"claim_digest"`
	ControlRoot string `json:"control_root"`
	Po2         uint32 `json:"po2"`
	Input       []byte `json:"input"`
}

type stdoutPayload struct {
	Chunk []byte `json:"chunk"`
}

type summaryPayload struct {
	SegmentCount int    `json:"segment_count"`
	UserCycles   uint64 `json:"user_cycles"`
	TotalCycles  uint64 `json:"total_cycles"`
	Journal      []byte `json:"journal,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func sendMessage(conn net.Conn, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("executor: marshal frame: %w", err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return fmt.Errorf("executor: write frame: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func receiveMessage(conn net.Conn) (message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return message{}, err
	}

	size := binary.BigEndian.Uint32(lenBuf)
	if size > maxMessageSize {
		return message{}, fmt.Errorf("executor: frame too large: %d bytes", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(conn, data); err != nil {
		return message{}, fmt.Errorf("executor: read frame body: %w", err)
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return message{}, fmt.Errorf("executor: decode frame: %w", err)
	}
	return msg, nil
}

var errUnexpectedMessageType = errors.New("executor: unexpected message type")

func unmarshalPayload(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
