package main

import (
	"context"
	"strconv"
	"testing"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	rows []persistence.EventRow
}

func (f *fakeLog) LoadEventsFrom(_ context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	var out []persistence.EventRow
	for _, r := range f.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeTicks map[string][]persistence.PriceTick

func (f fakeTicks) LoadSince(_ context.Context, pool string, ts int64) ([]persistence.PriceTick, error) {
	var out []persistence.PriceTick
	for _, t := range f[pool] {
		if t.Timestamp >= ts {
			out = append(out, t)
		}
	}
	return out, nil
}

// recorder interleaves commands and tick reloads in one trace.
type recorder struct {
	trace []string
}

func (r *recorder) Execute(cmd event.Command) (*core.Receipt, error) {
	r.trace = append(r.trace, "cmd@"+itoa(cmd.At().Time))
	return &core.Receipt{Command: cmd.CommandType()}, nil
}

func (r *recorder) Reload(ticks []persistence.PriceTick) (int, error) {
	for _, t := range ticks {
		r.trace = append(r.trace, t.Pool+"@"+itoa(t.Timestamp))
	}
	return len(ticks), nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func pauseRow(t *testing.T, seq, blockTime int64) persistence.EventRow {
	t.Helper()
	cmd := &event.Pause{Header: event.Header{
		ID:    uuid.New(),
		From:  common.HexToAddress("0xa1"),
		Nonce: uint64(seq),
		Block: event.Block{Number: uint64(seq), Time: blockTime},
	}}
	payload, err := event.EncodePayload(cmd)
	require.NoError(t, err)
	return persistence.EventRow{
		Sequence:    seq,
		CommandType: "Pause",
		BlockTime:   blockTime,
		Payload:     payload,
		StateHash:   make([]byte, 32),
	}
}

func TestLoadTicks_MergesPoolsByTime(t *testing.T) {
	src := fakeTicks{
		"a": {{Pool: "a", Timestamp: 10}, {Pool: "a", Timestamp: 30}},
		"b": {{Pool: "b", Timestamp: 5}, {Pool: "b", Timestamp: 20}},
	}
	ticks, err := loadTicks(context.Background(), src, 0, "a", "b")
	require.NoError(t, err)

	var order []int64
	for _, tk := range ticks {
		order = append(order, tk.Timestamp)
	}
	assert.Equal(t, []int64{5, 10, 20, 30}, order)
}

func TestReplayEventLog_InterleavesTicksByBlockTime(t *testing.T) {
	log := &fakeLog{rows: []persistence.EventRow{pauseRow(t, 1, 100), pauseRow(t, 2, 200)}}
	ticks := []persistence.PriceTick{
		{Pool: "p", Timestamp: 50},
		{Pool: "p", Timestamp: 100},
		{Pool: "p", Timestamp: 150},
		{Pool: "p", Timestamp: 250},
	}
	rec := &recorder{}

	n, err := replayEventLog(context.Background(), log, rec, rec, ticks, 1, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"p@50", "p@100", "cmd@100", "p@150", "cmd@200", "p@250"}, rec.trace)
}

func TestReplayEventLog_StartsAtSequence(t *testing.T) {
	log := &fakeLog{rows: []persistence.EventRow{pauseRow(t, 1, 100), pauseRow(t, 2, 200)}}
	rec := &recorder{}

	n, err := replayEventLog(context.Background(), log, rec, rec, nil, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"cmd@200"}, rec.trace)
}

func TestReplayEventLog_BadPayloadStops(t *testing.T) {
	row := pauseRow(t, 1, 100)
	row.Payload = []byte(`{`)
	rec := &recorder{}

	_, err := replayEventLog(context.Background(), &fakeLog{rows: []persistence.EventRow{row}}, rec, rec, nil, 1, zerolog.Nop())
	assert.Error(t, err)
}
