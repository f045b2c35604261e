package ledger

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novix-pay/novix-go/pkg/chain/evm"
)

var contractAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")

// chainStub simulates the deployed ledger contract behind the Backend
// interface: view calls answer from scripted state, transactions mine
// immediately with scripted logs.
type chainStub struct {
	mu  sync.Mutex
	abi abi.ABI

	dueIDs []uint64
	rows   map[uint64]ScheduledPayment

	sent    []*ethtypes.Transaction
	logs    []*ethtypes.Log
	mineErr error
}

func newChainStub(t *testing.T) *chainStub {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(recurringPaymentsABI))
	require.NoError(t, err)
	return &chainStub{abi: parsed, rows: make(map[uint64]ScheduledPayment)}
}

func (s *chainStub) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	getDue := s.abi.Methods["getDuePayments"]
	getUser := s.abi.Methods["getUserPayments"]
	payments := s.abi.Methods["payments"]

	switch {
	case string(msg.Data[:4]) == string(getDue.ID):
		ids := make([]*big.Int, 0, len(s.dueIDs))
		for _, id := range s.dueIDs {
			ids = append(ids, new(big.Int).SetUint64(id))
		}
		return getDue.Outputs.Pack(ids)
	case string(msg.Data[:4]) == string(getUser.ID):
		args, err := getUser.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		user := args[0].(common.Address)
		rows := make([]paymentRow, 0)
		for id, row := range s.rows {
			if row.Payer == user {
				rows = append(rows, stubRow(id, row))
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Id.Cmp(rows[j].Id) < 0 })
		return getUser.Outputs.Pack(rows)
	case string(msg.Data[:4]) == string(payments.ID):
		args, err := payments.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].(*big.Int).Uint64()
		row := stubRow(id, s.rows[id])
		return payments.Outputs.Pack(
			row.Id, row.Payer, row.Provider, row.Amount, row.Token,
			row.TokenSymbol, row.DueDate, row.IsRecurring, row.Interval,
			row.Executed, row.Active,
		)
	}
	return nil, ethereum.NotFound
}

func stubRow(id uint64, p ScheduledPayment) paymentRow {
	amount := p.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	return paymentRow{
		Id:          new(big.Int).SetUint64(id),
		Payer:       p.Payer,
		Provider:    p.Provider,
		Amount:      amount,
		Token:       p.Token,
		TokenSymbol: "USDC",
		DueDate:     new(big.Int).SetInt64(p.DueDate.Unix()),
		IsRecurring: p.IsRecurring,
		Interval:    new(big.Int).SetInt64(int64(p.Interval / time.Second)),
		Executed:    p.Executed,
		Active:      p.Active,
	}
}

func (s *chainStub) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (s *chainStub) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (s *chainStub) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (s *chainStub) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tx)
	return nil
}

func (s *chainStub) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mineErr != nil {
		return nil, s.mineErr
	}
	return &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(1),
		Logs:        s.logs,
	}, nil
}

func newTestContractClient(t *testing.T) (*ContractClient, *chainStub) {
	t.Helper()
	stub := newChainStub(t)
	session, err := evm.NewSigningSession(stub, big.NewInt(128123),
		"4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	client, err := NewContractClient(stub, session, contractAddr)
	require.NoError(t, err)
	return client, stub
}

func TestContractSchedule(t *testing.T) {
	client, stub := newTestContractClient(t)

	// The creation event carries the assigned id as the first indexed topic.
	event := stub.abi.Events["PaymentScheduled"]
	stub.logs = []*ethtypes.Log{{
		Address: contractAddr,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(5)),
			common.BytesToHash(payer.Bytes()),
			common.BytesToHash(provider.Bytes()),
		},
	}}

	id, err := client.Schedule(context.Background(), ScheduleSpec{
		Provider:    provider,
		Amount:      big.NewInt(1000),
		Token:       token,
		DueDate:     time.Unix(1_800_000_000, 0),
		IsRecurring: true,
		Interval:    24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
	require.Len(t, stub.sent, 1)
	assert.Equal(t, contractAddr, *stub.sent[0].To())
	assert.Zero(t, stub.sent[0].Value().Sign(), "token payments attach no native value")
}

func TestContractScheduleNativeAsset(t *testing.T) {
	client, stub := newTestContractClient(t)

	event := stub.abi.Events["PaymentScheduled"]
	stub.logs = []*ethtypes.Log{{
		Address: contractAddr,
		Topics:  []common.Hash{event.ID, common.BigToHash(big.NewInt(1))},
	}}

	_, err := client.Schedule(context.Background(), ScheduleSpec{
		Provider: provider,
		Amount:   big.NewInt(777),
		Token:    NativeAsset,
		DueDate:  time.Unix(1_800_000_000, 0),
	})
	require.NoError(t, err)
	require.Len(t, stub.sent, 1)
	assert.Equal(t, int64(777), stub.sent[0].Value().Int64(), "native payments travel as attached value")
}

func TestContractScheduleMissingEvent(t *testing.T) {
	client, stub := newTestContractClient(t)
	stub.logs = nil

	_, err := client.Schedule(context.Background(), ScheduleSpec{
		Provider: provider,
		Amount:   big.NewInt(1000),
		Token:    token,
		DueDate:  time.Unix(1_800_000_000, 0),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no creation event")
}

func TestContractDuePayments(t *testing.T) {
	client, stub := newTestContractClient(t)
	stub.dueIDs = []uint64{3, 7, 9}

	due, err := client.DuePayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 7, 9}, due)
}

func TestContractGet(t *testing.T) {
	client, stub := newTestContractClient(t)
	stub.rows[7] = ScheduledPayment{
		Payer:       payer,
		Provider:    provider,
		Amount:      big.NewInt(5000),
		Token:       token,
		DueDate:     time.Unix(1_800_000_000, 0),
		IsRecurring: true,
		Interval:    48 * time.Hour,
		Executed:    false,
		Active:      true,
	}

	row, err := client.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), row.ID)
	assert.Equal(t, payer, row.Payer)
	assert.Equal(t, int64(5000), row.Amount.Int64())
	assert.Equal(t, int64(1_800_000_000), row.DueDate.Unix())
	assert.Equal(t, 48*time.Hour, row.Interval)
	assert.True(t, row.IsRecurring)
	assert.True(t, row.Active)
}

func TestContractUserPayments(t *testing.T) {
	client, stub := newTestContractClient(t)
	stub.rows[2] = ScheduledPayment{
		Payer:    payer,
		Provider: provider,
		Amount:   big.NewInt(100),
		Token:    token,
		DueDate:  time.Unix(1_800_000_000, 0),
		Active:   true,
	}
	stub.rows[5] = ScheduledPayment{
		Payer:       payer,
		Provider:    provider,
		Amount:      big.NewInt(250),
		Token:       token,
		DueDate:     time.Unix(1_900_000_000, 0),
		IsRecurring: true,
		Interval:    24 * time.Hour,
		Active:      true,
	}
	stub.rows[3] = ScheduledPayment{
		Payer:    stranger,
		Provider: provider,
		Amount:   big.NewInt(999),
		Token:    token,
		DueDate:  time.Unix(1_800_000_000, 0),
		Active:   true,
	}

	rows, err := client.UserPayments(context.Background(), payer, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(2), rows[0].ID)
	assert.Equal(t, uint64(5), rows[1].ID)
	assert.Equal(t, int64(250), rows[1].Amount.Int64())
	assert.Equal(t, 24*time.Hour, rows[1].Interval)
	for _, row := range rows {
		assert.Equal(t, payer, row.Payer)
	}
}

func TestContractExecute(t *testing.T) {
	client, stub := newTestContractClient(t)

	require.NoError(t, client.Execute(context.Background(), 7))
	require.Len(t, stub.sent, 1)

	method := stub.abi.Methods["executePayment"]
	data := stub.sent[0].Data()
	require.Equal(t, string(method.ID), string(data[:4]))
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(7), args[0].(*big.Int).Uint64())
}
