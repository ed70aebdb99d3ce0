package ers

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oriys/zkrelay/internal/market"
)

// fakeMarket is a scripted MarketClient test double. Slash consumes the
// next entry of slashQueue if present, falling back to SlashSuccess; the
// other calls return the configured error if set, else the fixed fields.
type fakeMarket struct {
	mu sync.Mutex

	currentBlock uint64
	events       []market.Event
	sender       common.Address
	deadlines    map[string]uint64
	slashQueue   []slashScript

	currentBlockErr error
	queryEventsErr  error
	txSenderErr     error
	deadlineErr     error

	slashCalls []string
}

type slashScript struct {
	outcome market.SlashOutcome
	err     error
}

func (f *fakeMarket) CurrentBlock(ctx context.Context) (uint64, error) {
	if f.currentBlockErr != nil {
		return 0, f.currentBlockErr
	}
	return f.currentBlock, nil
}

func (f *fakeMarket) QueryEvents(ctx context.Context, from, to uint64) ([]market.Event, error) {
	if f.queryEventsErr != nil {
		return nil, f.queryEventsErr
	}
	var out []market.Event
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeMarket) TxSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	if f.txSenderErr != nil {
		return common.Address{}, f.txSenderErr
	}
	return f.sender, nil
}

func (f *fakeMarket) RequestDeadline(ctx context.Context, requestID common.Hash) (uint64, error) {
	if f.deadlineErr != nil {
		return 0, f.deadlineErr
	}
	return f.deadlines[requestID.Hex()], nil
}

func (f *fakeMarket) Slash(ctx context.Context, requestID common.Hash) (market.SlashOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slashCalls = append(f.slashCalls, requestID.Hex())
	if len(f.slashQueue) == 0 {
		return market.SlashSuccess, nil
	}
	next := f.slashQueue[0]
	f.slashQueue = f.slashQueue[1:]
	return next.outcome, next.err
}

var errBoom = errors.New("boom")
