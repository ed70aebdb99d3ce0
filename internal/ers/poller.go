package ers

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/ers/orderstore"
	"github.com/oriys/zkrelay/internal/market"
	"github.com/oriys/zkrelay/internal/metrics"
)

// MarketClient is the subset of market.Client the Poller and Slasher
// consume, narrowed to an interface so tests can supply a stub market.
type MarketClient interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, from, to uint64) ([]market.Event, error)
	TxSender(ctx context.Context, txHash common.Hash) (common.Address, error)
	RequestDeadline(ctx context.Context, requestID common.Hash) (uint64, error)
	Slash(ctx context.Context, requestID common.Hash) (market.SlashOutcome, error)
}

// Poller drives one tick of the event-reconciliation loop described in the
// ERS Event Poller component: fetch new blocks, classify Locked/Fulfilled/
// Slashed logs, and hand expired orders to the Slasher.
type Poller struct {
	Market   MarketClient
	Orders   orderstore.Store
	Metrics  *metrics.Metrics
	SkipList map[common.Address]bool // operator addresses never slashed (avoid self-slash)

	slasher *Slasher
}

// NewPoller wires a Poller with its Slasher, sharing the same market and
// order store.
func NewPoller(mkt MarketClient, orders orderstore.Store, m *metrics.Metrics, skipList map[common.Address]bool) *Poller {
	return &Poller{
		Market:   mkt,
		Orders:   orders,
		Metrics:  m,
		SkipList: skipList,
		slasher:  &Slasher{Market: mkt, Orders: orders, Metrics: m},
	}
}

// Tick runs one reconciliation pass. It returns a classified *domain.Error
// on failure so the Supervisor can decide whether to retry or terminate.
func (p *Poller) Tick(ctx context.Context) error {
	current, err := p.Market.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	lastProcessed, have, err := p.Orders.LastProcessedBlock(ctx)
	if err != nil {
		return domain.NewError(domain.KindDatabase, "poller.tick", err)
	}
	from := current
	if have {
		from = lastProcessed
	}
	to := current

	if to < from {
		// last_processed_block sits ahead of the chain head: the chain
		// reorged to a shorter history since the previous tick. Skip
		// rather than query an invalid [from, to] range.
		return nil
	}

	events, err := p.Market.QueryEvents(ctx, from, to)
	if err != nil {
		return err
	}

	for _, ev := range events {
		switch ev.Kind {
		case market.EventLocked:
			if err := p.handleLocked(ctx, ev); err != nil {
				return err
			}
		case market.EventFulfilled, market.EventSlashed:
			if err := p.Orders.RemoveOrder(ctx, ev.RequestID); err != nil {
				return domain.NewError(domain.KindDatabase, "poller.tick", err)
			}
		}
	}

	if err := p.slasher.SlashExpired(ctx, to); err != nil {
		return err
	}

	if err := p.Orders.SetLastProcessedBlock(ctx, to); err != nil {
		return domain.NewError(domain.KindDatabase, "poller.tick", err)
	}
	p.Metrics.SetLastProcessedBlock(to)

	return nil
}

func (p *Poller) handleLocked(ctx context.Context, ev market.Event) error {
	sender, err := p.Market.TxSender(ctx, ev.TxHash)
	if err != nil {
		return err
	}
	if p.SkipList[sender] {
		return nil
	}

	deadline, err := p.Market.RequestDeadline(ctx, common.HexToHash(ev.RequestID))
	if err != nil {
		return err
	}

	if err := p.Orders.AddOrder(ctx, orderstore.Order{RequestID: ev.RequestID, Deadline: deadline}); err != nil {
		return domain.NewError(domain.KindDatabase, "poller.handle_locked", err)
	}
	return nil
}

// tickInterval is the default fixed-interval cadence when not overridden
// by deployment configuration.
const tickInterval = 15 * time.Second
