package executor

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/oriys/zkrelay/internal/domain"
)

// UDSExecutor drives a guest runner process over a Unix domain socket
// using a length-prefixed JSON protocol. One Run call dials a fresh
// connection, streams the program and input across, then blocks reading
// frames until the guest reports a Summary or an Error.
type UDSExecutor struct {
	SocketPath     string
	DialTimeout    time.Duration
	HandshakeLimit time.Duration
}

// NewUDSExecutor returns an Executor that connects to a guest runner
// listening on socketPath.
func NewUDSExecutor(socketPath string) *UDSExecutor {
	return &UDSExecutor{
		SocketPath:     socketPath,
		DialTimeout:    5 * time.Second,
		HandshakeLimit: 10 * time.Second,
	}
}

// Run implements Executor. It pins the calling goroutine to its OS thread
// for the session's duration: the guest session is long-lived, CPU-bound
// work on the host side (segment staging happens downstream, not here),
// and keeping the executor's blocking loop off the scheduler's goroutine
// pool makes its resource usage easy to reason about under `perf`.
func (e *UDSExecutor) Run(ctx context.Context, programBytes []byte, env ExecutionEnv) (domain.SessionSummary, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	dialer := net.Dialer{Timeout: e.DialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", e.SocketPath)
	if err != nil {
		return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "dial guest runner", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	assumptions := make([]assumptionWire, 0, len(env.Assumptions))
	for _, a := range env.Assumptions {
		assumptions = append(assumptions, assumptionWire{
			ClaimDigest: a.ClaimDigest,
			Variant:     string(a.Variant),
			Bytes:       a.Bytes,
		})
	}

	start := startPayload{
		Program:     programBytes,
		Input:       env.InputBytes,
		Assumptions: assumptions,
		CycleLimit:  env.CycleLimit,
		Po2:         env.Po2,
	}
	startData := domain.MustMarshal(start)
	if err := sendMessage(conn, message{Type: msgTypeStart, Payload: startData}); err != nil {
		return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "send start frame", err)
	}

	for {
		select {
		case <-ctx.Done():
			return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "await guest session", ctx.Err())
		default:
		}

		msg, err := receiveMessage(conn)
		if err != nil {
			return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "receive guest frame", err)
		}

		switch msg.Type {
		case msgTypeSegment:
			var p segmentPayload
			if err := unmarshalPayload(msg.Payload, &p); err != nil {
				return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "decode segment frame", err)
			}
			if env.OnSegment != nil {
				if err := env.OnSegment(domain.Segment{Index: p.Index, Body: p.Body}); err != nil {
					return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "deliver segment", err)
				}
			}

		case msgTypeKeccak:
			var p keccakPayload
			if err := unmarshalPayload(msg.Payload, &p); err != nil {
				return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "decode keccak frame", err)
			}
			if env.OnKeccak != nil {
				if err := env.OnKeccak(domain.KeccakRequest{
					ClaimDigest: p.ClaimDigest,
					ControlRoot: p.ControlRoot,
					Po2:         p.Po2,
					Input:       p.Input,
				}); err != nil {
					return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "deliver keccak request", err)
				}
			}

		case msgTypeStdout:
			var p stdoutPayload
			if err := unmarshalPayload(msg.Payload, &p); err != nil {
				return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "decode stdout frame", err)
			}
			if env.Stdout != nil {
				if _, err := env.Stdout.Write(p.Chunk); err != nil {
					return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "write guest stdout", err)
				}
			}

		case msgTypeSummary:
			var p summaryPayload
			if err := unmarshalPayload(msg.Payload, &p); err != nil {
				return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "decode summary frame", err)
			}
			return domain.SessionSummary{
				SegmentCount: p.SegmentCount,
				UserCycles:   p.UserCycles,
				TotalCycles:  p.TotalCycles,
				Journal:      p.Journal,
			}, nil

		case msgTypeError:
			var p errorPayload
			if err := unmarshalPayload(msg.Payload, &p); err != nil {
				return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "decode error frame", err)
			}
			return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "guest session", fmt.Errorf("%s", p.Message))

		default:
			return domain.SessionSummary{}, domain.NewError(domain.KindExecutor, "receive guest frame", errUnexpectedMessageType)
		}
	}
}
