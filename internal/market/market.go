// Package market wraps the on-chain request market: event log queries for
// Locked/Fulfilled/Slashed requests, the requestDeadline view call, and
// slash transaction submission. It is a thin hand-rolled abi.Pack/abi.Unpack
// wrapper rather than a full abigen binding, since the ERS only needs three
// event topics and two method selectors.
package market

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/oriys/zkrelay/internal/domain"
)

// Event signatures the Poller queries by topic hash. The contract's actual
// ABI fragments are intentionally minimal: only the pieces ERS consumes.
var (
	eventLocked    = []byte("RequestLocked(bytes32)")
	eventFulfilled = []byte("RequestFulfilled(bytes32)")
	eventSlashed   = []byte("ProverSlashed(bytes32)")

	topicLocked    = crypto.Keccak256Hash(eventLocked)
	topicFulfilled = crypto.Keccak256Hash(eventFulfilled)
	topicSlashed   = crypto.Keccak256Hash(eventSlashed)
)

// EventKind classifies a decoded log by which of the three topics matched.
type EventKind string

const (
	EventLocked    EventKind = "locked"
	EventFulfilled EventKind = "fulfilled"
	EventSlashed   EventKind = "slashed"
)

// Event is a decoded market log, trimmed to what the Poller needs.
type Event struct {
	Kind        EventKind
	RequestID   string
	BlockNumber uint64
	TxHash      common.Hash
}

// SlashOutcome classifies the result of a slash transaction per the
// revert-substring table the Slasher consumes.
type SlashOutcome string

const (
	SlashSuccess           SlashOutcome = "success"
	SlashBenignRace        SlashOutcome = "benign_race"
	SlashRequestNotExpired SlashOutcome = "request_not_expired"
	SlashInsufficientFunds SlashOutcome = "insufficient_funds"
	SlashRecoverable       SlashOutcome = "recoverable"
)

// revert substrings the contract raises; matched case-sensitively against
// the RPC error's string. The revert reason is not decoded, and a mined
// transaction whose receipt reports failure is classified as recoverable.
const (
	revertRequestIsSlashed    = "RequestIsSlashed"
	revertRequestIsFulfilled  = "RequestIsFulfilled"
	revertRequestIsNotExpired = "RequestIsNotExpired"
	revertInsufficientFunds   = "insufficient funds"
	revertGasExceedsAllowance = "gas required exceeds allowance"
)

// marketABI describes the two contract methods ERS calls, requestDeadline
// and slash. Parsed once from minimal ABI fragments rather than a full
// generated binding.
var marketABI = mustParseABI(`[
	{"type":"function","name":"requestDeadline","stateMutability":"view","inputs":[{"name":"requestId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"slash","stateMutability":"nonpayable","inputs":[{"name":"requestId","type":"bytes32"}],"outputs":[]}
]`)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("market: invalid embedded ABI fragment: " + err.Error())
	}
	return parsed
}

var (
	errNoSigner  = errors.New("market: slash requires a configured signer")
	errTxReverted = errors.New("market: slash transaction reverted")
)

// Client talks to the request market contract over an ethclient connection.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	signer   *bind.TransactOpts
}

// NewClient wraps an already-dialed ethclient.Client. signer is used for
// slash transaction submission only; event queries and deadline reads work
// with a nil signer.
func NewClient(eth *ethclient.Client, contract common.Address, signer *bind.TransactOpts) *Client {
	return &Client{eth: eth, contract: contract, signer: signer}
}

// CurrentBlock returns the chain's latest block number.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, domain.NewError(domain.KindRPC, "market.current_block", err)
	}
	return n, nil
}

// QueryEvents fetches Locked/Fulfilled/Slashed logs in [from, to] inclusive.
func (c *Client) QueryEvents(ctx context.Context, from, to uint64) ([]Event, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{topicLocked, topicFulfilled, topicSlashed}},
	}
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, domain.NewError(domain.KindEventQuery, "market.query_events", err)
	}

	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		ev := Event{
			RequestID:   lg.Topics[1].Hex(),
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash,
		}
		switch lg.Topics[0] {
		case topicLocked:
			ev.Kind = EventLocked
		case topicFulfilled:
			ev.Kind = EventFulfilled
		case topicSlashed:
			ev.Kind = EventSlashed
		default:
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// TxSender returns the sender address of the transaction that produced a
// log, used by the Poller to check the operator's skip list.
func (c *Client) TxSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, domain.NewError(domain.KindEventQuery, "market.tx_sender", err)
	}
	signer := types.LatestSignerForChainID(tx.ChainId())
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return common.Address{}, domain.NewError(domain.KindEventQuery, "market.tx_sender", err)
	}
	return sender, nil
}

// RequestDeadline reads the contract-reported expiry block for requestID.
func (c *Client) RequestDeadline(ctx context.Context, requestID common.Hash) (uint64, error) {
	data, err := marketABI.Pack("requestDeadline", requestID)
	if err != nil {
		return 0, domain.NewError(domain.KindMarket, "market.request_deadline", err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, domain.NewError(domain.KindMarket, "market.request_deadline", err)
	}
	out, err := marketABI.Unpack("requestDeadline", raw)
	if err != nil || len(out) == 0 {
		return 0, domain.NewError(domain.KindMarket, "market.request_deadline", err)
	}
	deadline, ok := out[0].(*big.Int)
	if !ok {
		return 0, domain.NewError(domain.KindMarket, "market.request_deadline", nil)
	}
	return deadline.Uint64(), nil
}

// Slash submits a slash transaction for requestID and classifies the
// outcome per the revert-substring table. A nil error alongside
// SlashSuccess/SlashBenignRace means the caller should delete the order;
// SlashRequestNotExpired/SlashInsufficientFunds are returned as non-nil
// fatal errors; SlashRecoverable is returned as a non-nil recoverable
// error. Callers switch on the returned SlashOutcome, not on err alone,
// because a benign race is represented as (SlashBenignRace, nil).
func (c *Client) Slash(ctx context.Context, requestID common.Hash) (SlashOutcome, error) {
	if c.signer == nil {
		return SlashRecoverable, domain.NewError(domain.KindMarket, "market.slash", errNoSigner)
	}
	data, err := marketABI.Pack("slash", requestID)
	if err != nil {
		return SlashRecoverable, domain.NewError(domain.KindMarket, "market.slash", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		To:   &c.contract,
		Data: data,
	})
	signedTx, err := c.signer.Signer(c.signer.From, tx)
	if err != nil {
		return SlashRecoverable, domain.NewError(domain.KindMarket, "market.slash", err)
	}
	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return classifyRevert(err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, signedTx)
	if err != nil {
		return classifyRevert(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return classifyRevert(errTxReverted)
	}
	return SlashSuccess, nil
}

func classifyRevert(err error) (SlashOutcome, error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, revertRequestIsSlashed), strings.Contains(msg, revertRequestIsFulfilled):
		return SlashBenignRace, nil
	case strings.Contains(msg, revertRequestIsNotExpired):
		return SlashRequestNotExpired, domain.NewError(domain.KindRequestNotExpired, "market.slash", err)
	case strings.Contains(msg, revertInsufficientFunds), strings.Contains(msg, revertGasExceedsAllowance):
		return SlashInsufficientFunds, domain.NewError(domain.KindInsufficientFunds, "market.slash", err)
	default:
		return SlashRecoverable, domain.NewError(domain.KindMarket, "market.slash", err)
	}
}
