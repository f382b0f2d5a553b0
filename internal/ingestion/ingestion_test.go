package ingestion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/ingestion"
	"PowerVault/internal/oracle"
	"PowerVault/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeExecutor struct {
	applied chan event.Command
	err     error
}

func (f *fakeExecutor) Execute(cmd event.Command) (*core.Receipt, error) {
	f.applied <- cmd
	if f.err != nil {
		return nil, &core.OpError{Op: cmd.CommandType(), Err: f.err}
	}
	return &core.Receipt{Sequence: 1, Command: cmd.CommandType()}, nil
}

type fakeTickStore struct {
	mu    sync.Mutex
	ticks []persistence.PriceTick
}

func (s *fakeTickStore) Save(_ context.Context, t persistence.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return nil
}

type fakeStream struct {
	calls    int
	subjects []string
	err      error
}

func (f *fakeStream) Publish(_ context.Context, subject string, _ []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls++
	f.subjects = append(f.subjects, subject)
	if f.err != nil {
		return nil, f.err
	}
	return &jetstream.PubAck{Stream: ingestion.EventStream}, nil
}

func pauseCmd() *event.Pause {
	return &event.Pause{Header: event.Header{
		ID:    uuid.New(),
		From:  common.HexToAddress("0xa1"),
		Block: event.Block{Number: 1, Time: 1_700_000_000},
	}}
}

func runGateway(t *testing.T, g *ingestion.CommandGateway, exec ingestion.Executor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = g.Run(ctx, exec)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newTestPool(t *testing.T) *oracle.MemoryPool {
	t.Helper()
	pool, err := oracle.NewMemoryPool(common.HexToAddress("0x01"), common.HexToAddress("0x02"), 0, 1_000, 16)
	require.NoError(t, err)
	return pool
}

// ============================================================================
// Gateway
// ============================================================================

func TestCommandGateway_SubmitReturnsReceipt(t *testing.T) {
	exec := &fakeExecutor{applied: make(chan event.Command, 1)}
	g := ingestion.NewCommandGateway(4, nil, nil, zerolog.Nop())
	runGateway(t, g, exec)

	receipt, err := g.Submit(context.Background(), pauseCmd())
	require.NoError(t, err)
	assert.Equal(t, event.CommandTypePause, receipt.Command)
}

func TestCommandGateway_SubmitReturnsEngineError(t *testing.T) {
	exec := &fakeExecutor{applied: make(chan event.Command, 1), err: core.ErrSystemPaused}
	g := ingestion.NewCommandGateway(4, nil, nil, zerolog.Nop())
	runGateway(t, g, exec)

	_, err := g.Submit(context.Background(), pauseCmd())
	assert.ErrorIs(t, err, core.ErrSystemPaused)
}

func TestCommandGateway_SubmitHonoursContext(t *testing.T) {
	g := ingestion.NewCommandGateway(0, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Submit(ctx, pauseCmd())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandGateway_StampsChainHead(t *testing.T) {
	exec := &fakeExecutor{applied: make(chan event.Command, 1)}
	head := event.Block{Number: 5, Time: 1_700_000_000}
	g := ingestion.NewCommandGateway(4, ingestion.NewChainClock(head), nil, zerolog.Nop())
	runGateway(t, g, exec)

	// A client-chosen block, however far ahead, never reaches the engine.
	cmd := pauseCmd()
	cmd.Block = event.Block{Number: ^uint64(0), Time: 4_000_000_000}
	_, err := g.Submit(context.Background(), cmd)
	require.NoError(t, err)

	applied := <-exec.applied
	assert.Equal(t, head, applied.At())
}

func TestCommandGateway_RejectsBeforeFirstObservation(t *testing.T) {
	exec := &fakeExecutor{applied: make(chan event.Command, 1)}
	g := ingestion.NewCommandGateway(4, ingestion.NewChainClock(event.Block{}), nil, zerolog.Nop())
	runGateway(t, g, exec)

	_, err := g.Submit(context.Background(), pauseCmd())
	assert.ErrorIs(t, err, ingestion.ErrNoChainHead)
	assert.Empty(t, exec.applied)
}

// ============================================================================
// Chain clock
// ============================================================================

func TestChainClock_OnlyMovesForward(t *testing.T) {
	clock := ingestion.NewChainClock(event.Block{Number: 10, Time: 1000})

	clock.Observe(0, 1010)
	head, ok := clock.Head()
	require.True(t, ok)
	assert.Equal(t, event.Block{Number: 11, Time: 1010}, head, "a new timestamp without a number opens the next block")

	clock.Observe(0, 1010)
	clock.Observe(0, 900)
	clock.Observe(3, 1005)
	head, _ = clock.Head()
	assert.Equal(t, event.Block{Number: 11, Time: 1010}, head)

	clock.Observe(40, 1020)
	head, _ = clock.Head()
	assert.Equal(t, event.Block{Number: 40, Time: 1020}, head)

	clock.Reset(event.Block{Number: 45, Time: 1015})
	head, _ = clock.Head()
	assert.Equal(t, event.Block{Number: 45, Time: 1020}, head)
}

func TestPriceApplier_AdvancesClock(t *testing.T) {
	pool := newTestPool(t)
	clock := ingestion.NewChainClock(event.Block{})
	prices := ingestion.NewPriceApplier(map[string]*oracle.MemoryPool{"p": pool}, nil, clock, nil)

	_, ok := clock.Head()
	require.False(t, ok)

	require.NoError(t, prices.Apply(context.Background(), ingestion.PriceUpdate{Pool: "p", Block: 77, Timestamp: 3000, Tick: 10}))
	head, ok := clock.Head()
	require.True(t, ok)
	assert.Equal(t, event.Block{Number: 77, Time: 3000}, head)

	// Stale ticks are dropped before they can touch the clock.
	require.NoError(t, prices.Apply(context.Background(), ingestion.PriceUpdate{Pool: "p", Block: 99, Timestamp: 2000, Tick: 1}))
	head, _ = clock.Head()
	assert.Equal(t, event.Block{Number: 77, Time: 3000}, head)
}

// ============================================================================
// Router
// ============================================================================

func TestRouter_CommandsAreAckedAfterEnqueue(t *testing.T) {
	exec := &fakeExecutor{applied: make(chan event.Command, 1)}
	g := ingestion.NewCommandGateway(4, nil, nil, zerolog.Nop())
	router := ingestion.NewRouter(g, nil, zerolog.Nop())

	var acks, naks int
	raw := make(chan ingestion.RawMessage, 2)
	raw <- ingestion.RawMessage{
		Subject:   "vault.commands.Pause",
		Data:      []byte(`{` + header + `}`),
		Timestamp: time.Now(),
		AckFunc:   func() { acks++ },
		NakFunc:   func() { naks++ },
	}
	raw <- ingestion.RawMessage{
		Subject: "vault.commands.Pause",
		Data:    []byte(`not json`),
		AckFunc: func() { acks++ },
		NakFunc: func() { naks++ },
	}
	close(raw)

	require.NoError(t, router.Run(context.Background(), raw))
	assert.Equal(t, 2, acks, "valid and malformed messages are both acked")
	assert.Zero(t, naks)

	runGateway(t, g, exec)
	select {
	case cmd := <-exec.applied:
		assert.Equal(t, event.CommandTypePause, cmd.CommandType())
	case <-time.After(time.Second):
		t.Fatal("queued command never reached the engine")
	}
}

func TestRouter_PriceUpdates(t *testing.T) {
	pool := newTestPool(t)
	store := &fakeTickStore{}
	prices := ingestion.NewPriceApplier(map[string]*oracle.MemoryPool{"eth_usdc": pool}, store, nil, nil)
	router := ingestion.NewRouter(ingestion.NewCommandGateway(1, nil, nil, zerolog.Nop()), prices, zerolog.Nop())

	var acks, naks int
	raw := make(chan ingestion.RawMessage, 2)
	raw <- ingestion.RawMessage{
		Subject: "vault.prices.eth_usdc",
		Data:    []byte(`{"ts":2000,"tick":120}`),
		AckFunc: func() { acks++ },
		NakFunc: func() { naks++ },
	}
	raw <- ingestion.RawMessage{
		Subject: "vault.prices.unknown",
		Data:    []byte(`{"ts":2000,"tick":1}`),
		AckFunc: func() { acks++ },
		NakFunc: func() { naks++ },
	}
	close(raw)

	require.NoError(t, router.Run(context.Background(), raw))
	assert.Equal(t, 2, acks)
	assert.Zero(t, naks)

	tick, ts := pool.LastObservation()
	assert.Equal(t, int32(120), tick)
	assert.Equal(t, int64(2000), ts)
	require.Len(t, store.ticks, 1)
}

// ============================================================================
// Prices
// ============================================================================

func TestPriceApplier_DropsStaleTicks(t *testing.T) {
	pool := newTestPool(t)
	store := &fakeTickStore{}
	prices := ingestion.NewPriceApplier(map[string]*oracle.MemoryPool{"p": pool}, store, nil, nil)

	require.NoError(t, prices.Apply(context.Background(), ingestion.PriceUpdate{Pool: "p", Timestamp: 3000, Tick: 10}))
	require.NoError(t, prices.Apply(context.Background(), ingestion.PriceUpdate{Pool: "p", Timestamp: 2000, Tick: 99}))

	tick, ts := pool.LastObservation()
	assert.Equal(t, int32(10), tick)
	assert.Equal(t, int64(3000), ts)
	assert.Len(t, store.ticks, 1, "stale tick must not reach the log")
}

func TestPriceApplier_Reload(t *testing.T) {
	pool := newTestPool(t)
	prices := ingestion.NewPriceApplier(map[string]*oracle.MemoryPool{"p": pool}, nil, nil, nil)

	n, err := prices.Reload([]persistence.PriceTick{
		{Pool: "p", Timestamp: 500, Tick: 1}, // before genesis observation
		{Pool: "p", Timestamp: 1500, Tick: 2},
		{Pool: "other", Timestamp: 1600, Tick: 3},
		{Pool: "p", Timestamp: 1700, Tick: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tick, _ := pool.LastObservation()
	assert.Equal(t, int32(4), tick)
}

// ============================================================================
// Publisher
// ============================================================================

func TestOutboundPublisher_Subject(t *testing.T) {
	stream := &fakeStream{}
	pub := ingestion.NewOutboundPublisher(stream, nil, ingestion.DefaultBreakerSettings(), nil, zerolog.Nop())

	require.NoError(t, pub.Publish(context.Background(), ingestion.PublishableEvent{Sequence: 4, CommandType: "Mint"}))
	assert.Equal(t, []string{"vault.events.Mint"}, stream.subjects)
}

func TestOutboundPublisher_BreakerOpensAfterFailures(t *testing.T) {
	stream := &fakeStream{err: errors.New("nats down")}
	pub := ingestion.NewOutboundPublisher(stream, nil,
		ingestion.BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil, zerolog.Nop())

	ctx := context.Background()
	assert.Error(t, pub.Publish(ctx, ingestion.PublishableEvent{Sequence: 1, CommandType: "Mint"}))
	assert.Error(t, pub.Publish(ctx, ingestion.PublishableEvent{Sequence: 2, CommandType: "Mint"}))

	err := pub.Publish(ctx, ingestion.PublishableEvent{Sequence: 3, CommandType: "Mint"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, stream.calls, "open breaker must not reach NATS")
}

func TestOutboundPublisher_RunDrainsInput(t *testing.T) {
	stream := &fakeStream{}
	in := make(chan ingestion.PublishableEvent, 2)
	pub := ingestion.NewOutboundPublisher(stream, in, ingestion.DefaultBreakerSettings(), nil, zerolog.Nop())

	in <- ingestion.PublishableEvent{Sequence: 1, CommandType: "Deposit"}
	in <- ingestion.PublishableEvent{Sequence: 2, CommandType: "Burn"}
	close(in)

	require.NoError(t, pub.Run(context.Background()))
	assert.Equal(t, []string{"vault.events.Deposit", "vault.events.Burn"}, stream.subjects)
}

func TestNewPublishableEvent(t *testing.T) {
	out := core.CoreOutput{Envelope: &event.Envelope{
		Sequence:       8,
		CommandType:    event.CommandTypeDeposit,
		IdempotencyKey: "k",
		VaultID:        3,
	}}
	evt := ingestion.NewPublishableEvent(out)
	assert.Equal(t, "Deposit", evt.CommandType)
	assert.Equal(t, uint64(3), evt.VaultID)
	assert.Len(t, evt.StateHash, 64)
}
