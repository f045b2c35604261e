package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/novix-pay/novix-go/pkg/chain/evm"
)

// recurringPaymentsABI is the deployed ledger contract's external surface.
const recurringPaymentsABI = `[
	{"inputs":[{"internalType":"address","name":"provider","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"dueDate","type":"uint256"},{"internalType":"bool","name":"isRecurring","type":"bool"},{"internalType":"uint256","name":"interval","type":"uint256"}],"name":"schedulePayment","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"paymentId","type":"uint256"}],"name":"executePayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"paymentId","type":"uint256"}],"name":"cancelPayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"paymentId","type":"uint256"}],"name":"depositFunds","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[],"name":"getDuePayments","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"user","type":"address"},{"internalType":"bool","name":"upcomingOnly","type":"bool"}],"name":"getUserPayments","outputs":[{"components":[{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"address","name":"payer","type":"address"},{"internalType":"address","name":"provider","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"token","type":"address"},{"internalType":"string","name":"tokenSymbol","type":"string"},{"internalType":"uint256","name":"dueDate","type":"uint256"},{"internalType":"bool","name":"isRecurring","type":"bool"},{"internalType":"uint256","name":"interval","type":"uint256"},{"internalType":"bool","name":"executed","type":"bool"},{"internalType":"bool","name":"active","type":"bool"}],"internalType":"struct RecurringPayments.Payment[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"paymentCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"","type":"uint256"}],"name":"payments","outputs":[{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"address","name":"payer","type":"address"},{"internalType":"address","name":"provider","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"address","name":"token","type":"address"},{"internalType":"string","name":"tokenSymbol","type":"string"},{"internalType":"uint256","name":"dueDate","type":"uint256"},{"internalType":"bool","name":"isRecurring","type":"bool"},{"internalType":"uint256","name":"interval","type":"uint256"},{"internalType":"bool","name":"executed","type":"bool"},{"internalType":"bool","name":"active","type":"bool"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"paymentId","type":"uint256"},{"indexed":true,"internalType":"address","name":"payer","type":"address"},{"indexed":true,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"address","name":"token","type":"address"},{"indexed":false,"internalType":"uint256","name":"dueDate","type":"uint256"}],"name":"PaymentScheduled","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"paymentId","type":"uint256"},{"indexed":false,"internalType":"address","name":"provider","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"address","name":"token","type":"address"}],"name":"PaymentExecuted","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"paymentId","type":"uint256"}],"name":"PaymentCancelled","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"paymentId","type":"uint256"},{"indexed":false,"internalType":"string","name":"reason","type":"string"}],"name":"PaymentFailed","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"paymentId","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"address","name":"token","type":"address"}],"name":"FundsDeposited","type":"event"}
]`

// ContractClient drives a deployed recurring payments contract. Transactions
// are submitted through the scheduler's signing session; reads go straight to
// the backend.
type ContractClient struct {
	backend     evm.Backend
	session     *evm.SigningSession
	address     common.Address
	abi         abi.ABI
	waitTimeout time.Duration
}

// NewContractClient binds a deployed ledger contract.
func NewContractClient(backend evm.Backend, session *evm.SigningSession, address common.Address) (*ContractClient, error) {
	parsed, err := abi.JSON(strings.NewReader(recurringPaymentsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger ABI: %w", err)
	}
	return &ContractClient{
		backend:     backend,
		session:     session,
		address:     address,
		abi:         parsed,
		waitTimeout: evm.DefaultSettleTimeout,
	}, nil
}

// Schedule creates an on-chain entry funded by the session's account. For
// native-asset payments the amount travels as attached value; for tokens the
// contract consumes a prior approval. Returns the assigned payment id from
// the creation event.
func (c *ContractClient) Schedule(ctx context.Context, spec ScheduleSpec) (uint64, error) {
	dueDate := new(big.Int).SetInt64(spec.DueDate.Unix())
	interval := new(big.Int).SetInt64(int64(spec.Interval / time.Second))

	data, err := c.abi.Pack("schedulePayment", spec.Provider, spec.Amount, spec.Token, dueDate, spec.IsRecurring, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to pack schedulePayment: %w", err)
	}

	var value *big.Int
	if spec.Token == NativeAsset {
		value = spec.Amount
	}

	receipt, err := c.submit(ctx, value, data)
	if err != nil {
		return 0, err
	}

	event := c.abi.Events["PaymentScheduled"]
	for _, lg := range receipt.Logs {
		if lg.Address != c.address || len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(), nil
	}
	return 0, fmt.Errorf("schedulePayment succeeded but no creation event found in tx %s", receipt.TxHash.Hex())
}

// Execute implements Ledger.
func (c *ContractClient) Execute(ctx context.Context, id uint64) error {
	data, err := c.abi.Pack("executePayment", new(big.Int).SetUint64(id))
	if err != nil {
		return fmt.Errorf("failed to pack executePayment: %w", err)
	}
	_, err = c.submit(ctx, nil, data)
	return err
}

// Cancel cancels an entry. The contract only honors this from the original
// payer, so the session must hold the payer's key.
func (c *ContractClient) Cancel(ctx context.Context, id uint64) error {
	data, err := c.abi.Pack("cancelPayment", new(big.Int).SetUint64(id))
	if err != nil {
		return fmt.Errorf("failed to pack cancelPayment: %w", err)
	}
	_, err = c.submit(ctx, nil, data)
	return err
}

// Deposit tops up an entry's escrow from the session's account.
func (c *ContractClient) Deposit(ctx context.Context, id uint64, nativeValue *big.Int) error {
	data, err := c.abi.Pack("depositFunds", new(big.Int).SetUint64(id))
	if err != nil {
		return fmt.Errorf("failed to pack depositFunds: %w", err)
	}
	_, err = c.submit(ctx, nativeValue, data)
	return err
}

// DuePayments implements Ledger.
func (c *ContractClient) DuePayments(ctx context.Context) ([]uint64, error) {
	data, err := c.abi.Pack("getDuePayments")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getDuePayments: %w", err)
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getDuePayments call failed: %w", err)
	}

	var ids []*big.Int
	if err := c.abi.UnpackIntoInterface(&ids, "getDuePayments", result); err != nil {
		return nil, fmt.Errorf("failed to unpack getDuePayments result: %w", err)
	}

	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Uint64())
	}
	return out, nil
}

// Get reads one ledger row.
func (c *ContractClient) Get(ctx context.Context, id uint64) (ScheduledPayment, error) {
	data, err := c.abi.Pack("payments", new(big.Int).SetUint64(id))
	if err != nil {
		return ScheduledPayment{}, fmt.Errorf("failed to pack payments: %w", err)
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return ScheduledPayment{}, fmt.Errorf("payments call failed: %w", err)
	}

	var row paymentRow
	if err := c.abi.UnpackIntoInterface(&row, "payments", result); err != nil {
		return ScheduledPayment{}, fmt.Errorf("failed to unpack payments result: %w", err)
	}
	return row.toDomain(), nil
}

// UserPayments lists the entries a payer created, newest last. With
// upcomingOnly the contract filters to active entries due in the future.
func (c *ContractClient) UserPayments(ctx context.Context, payer common.Address, upcomingOnly bool) ([]ScheduledPayment, error) {
	data, err := c.abi.Pack("getUserPayments", payer, upcomingOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getUserPayments: %w", err)
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getUserPayments call failed: %w", err)
	}

	var rows []paymentRow
	if err := c.abi.UnpackIntoInterface(&rows, "getUserPayments", result); err != nil {
		return nil, fmt.Errorf("failed to unpack getUserPayments result: %w", err)
	}

	out := make([]ScheduledPayment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// paymentRow mirrors the contract's Payment struct. The token symbol is
// informational on-chain and not carried into the domain type.
type paymentRow struct {
	Id          *big.Int
	Payer       common.Address
	Provider    common.Address
	Amount      *big.Int
	Token       common.Address
	TokenSymbol string
	DueDate     *big.Int
	IsRecurring bool
	Interval    *big.Int
	Executed    bool
	Active      bool
}

func (r paymentRow) toDomain() ScheduledPayment {
	return ScheduledPayment{
		ID:          r.Id.Uint64(),
		Payer:       r.Payer,
		Provider:    r.Provider,
		Amount:      r.Amount,
		Token:       r.Token,
		DueDate:     time.Unix(r.DueDate.Int64(), 0),
		IsRecurring: r.IsRecurring,
		Interval:    time.Duration(r.Interval.Int64()) * time.Second,
		Executed:    r.Executed,
		Active:      r.Active,
		Escrow:      new(big.Int),
	}
}

func (c *ContractClient) submit(ctx context.Context, value *big.Int, data []byte) (*ethtypes.Receipt, error) {
	tx, err := c.session.Submit(ctx, c.address, value, data)
	if err != nil {
		return nil, fmt.Errorf("ledger tx submission failed: %w", err)
	}
	receipt, err := c.session.WaitMined(ctx, tx, c.waitTimeout)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("ledger tx %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}
