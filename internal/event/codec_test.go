package event_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"PowerVault/internal/event"
)

func TestCommandType_NamesRoundTrip(t *testing.T) {
	for ct := event.CommandTypeMint; ct <= event.CommandTypeTransferDebt; ct++ {
		require.NotEqual(t, "Unknown", ct.String(), "command type %d has no name", ct)
		require.Equal(t, ct, event.ParseCommandType(ct.String()))

		cmd, err := event.New(ct)
		require.NoError(t, err)
		require.Equal(t, ct, cmd.CommandType())
	}
	require.Equal(t, event.CommandTypeUnknown, event.ParseCommandType("Swap"))
}

func TestDecodePayload_Mint(t *testing.T) {
	in := &event.Mint{
		Header: event.Header{
			ID:    uuid.New(),
			From:  common.HexToAddress("0x01"),
			Nonce: 7,
			Block: event.Block{Number: 12, Time: 1_700_000_000},
		},
		VaultID: 3,
		Amount:  big.NewInt(5),
		Value:   new(big.Int).Lsh(big.NewInt(1), 100),
	}
	data, err := event.EncodePayload(in)
	require.NoError(t, err)

	out, err := event.DecodePayload(event.CommandTypeMint, data)
	require.NoError(t, err)
	mint := out.(*event.Mint)
	require.Equal(t, in.IdempotencyKey(), mint.IdempotencyKey())
	require.Equal(t, in.From, mint.Sender())
	require.Equal(t, uint64(7), mint.SourceSequence())
	require.Equal(t, in.Block, mint.At())
	require.Zero(t, in.Value.Cmp(mint.Value), "values above 2^64 survive the log")
	require.Equal(t, uint64(3), event.VaultOf(mint))
	require.Equal(t, uint64(0), event.VaultOf(&event.Pause{}))
}
