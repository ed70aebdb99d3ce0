package ers

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oriys/zkrelay/internal/domain"
	"github.com/oriys/zkrelay/internal/ers/orderstore"
	"github.com/oriys/zkrelay/internal/logging"
	"github.com/oriys/zkrelay/internal/market"
	"github.com/oriys/zkrelay/internal/metrics"
)

// Slasher attempts to slash every order past its deadline and classifies
// the result per the revert-substring table: success and benign races both
// remove the order; RequestNotExpired and InsufficientFunds are fatal;
// anything else is recoverable and surfaces to the Supervisor.
type Slasher struct {
	Market  MarketClient
	Orders  orderstore.Store
	Metrics *metrics.Metrics
}

// SlashExpired attempts every order whose deadline is at or before
// currentBlock, sequentially (nonce contention makes concurrent slashes
// unsafe within one tick).
func (s *Slasher) SlashExpired(ctx context.Context, currentBlock uint64) error {
	expired, err := s.Orders.ExpiredOrders(ctx, currentBlock)
	if err != nil {
		return domain.NewError(domain.KindDatabase, "slasher.slash_expired", err)
	}

	for _, order := range expired {
		if err := s.slashOne(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slasher) slashOne(ctx context.Context, order orderstore.Order) error {
	outcome, slashErr := s.Market.Slash(ctx, common.HexToHash(order.RequestID))

	attempt := orderstore.SlashAttempt{
		RequestID:   order.RequestID,
		AttemptedAt: time.Now().UTC(),
		Outcome:     string(outcome),
	}
	if slashErr != nil {
		attempt.Error = slashErr.Error()
	}
	if err := s.Orders.RecordSlashAttempt(ctx, attempt); err != nil {
		logging.Op().Warn("failed to record slash attempt", "request_id", order.RequestID, "error", err)
	}
	s.Metrics.RecordSlash(string(outcome))

	switch outcome {
	case market.SlashSuccess, market.SlashBenignRace:
		if err := s.Orders.RemoveOrder(ctx, order.RequestID); err != nil {
			return domain.NewError(domain.KindDatabase, "slasher.slash_one", err)
		}
		return nil
	default:
		return slashErr
	}
}
