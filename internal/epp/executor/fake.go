package executor

import (
	"context"

	"github.com/oriys/zkrelay/internal/domain"
)

// Fake is an in-process Executor test double: it replays a scripted
// session (segments, keccak requests, a summary or an error) through the
// same callback contract as UDSExecutor, with no sockets involved.
type Fake struct {
	Segments []domain.Segment
	Keccaks  []domain.KeccakRequest
	Stdout   []byte
	Summary  domain.SessionSummary
	Err      error
}

func (f *Fake) Run(ctx context.Context, programBytes []byte, env ExecutionEnv) (domain.SessionSummary, error) {
	if env.Stdout != nil && len(f.Stdout) > 0 {
		if _, err := env.Stdout.Write(f.Stdout); err != nil {
			return domain.SessionSummary{}, err
		}
	}

	for _, seg := range f.Segments {
		if env.OnSegment != nil {
			if err := env.OnSegment(seg); err != nil {
				return domain.SessionSummary{}, err
			}
		}
	}
	for _, kr := range f.Keccaks {
		if env.OnKeccak != nil {
			if err := env.OnKeccak(kr); err != nil {
				return domain.SessionSummary{}, err
			}
		}
	}

	if f.Err != nil {
		return domain.SessionSummary{}, f.Err
	}
	return f.Summary, nil
}
