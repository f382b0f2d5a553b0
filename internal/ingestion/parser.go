package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"PowerVault/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Subject layout. Commands arrive on vault.commands.<CommandType>, pool
// observations on vault.prices.<pool>.
const (
	CommandSubjectPrefix = "vault.commands."
	PriceSubjectPrefix   = "vault.prices."
	EventSubjectPrefix   = "vault.events."
)

// ErrMalformed marks input rejected before it reaches the engine.
var ErrMalformed = errors.New("malformed input")

// CommandTypeFromSubject resolves vault.commands.<Type>.
func CommandTypeFromSubject(subject string) (event.CommandType, bool) {
	name, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok {
		return event.CommandTypeUnknown, false
	}
	ct := event.ParseCommandType(name)
	return ct, ct != event.CommandTypeUnknown
}

// ParseCommand decodes a JSON command body. Field names follow the command
// structs (snake_case); amounts are JSON integers in wei or token units. A
// block in the body is accepted but replaced by the gateway.
// Unknown fields are rejected so that a typo never silently zeroes an
// amount.
func ParseCommand(commandType string, data []byte) (event.Command, error) {
	ct := event.ParseCommandType(commandType)
	if ct == event.CommandTypeUnknown {
		return nil, fmt.Errorf("%w: unknown command type %q", ErrMalformed, commandType)
	}
	cmd, err := event.New(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformed, ct, err)
	}

	if err := validateCommand(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, ct, err)
	}
	return cmd, nil
}

func validateCommand(cmd event.Command) error {
	if _, err := uuid.Parse(cmd.IdempotencyKey()); err != nil || cmd.IdempotencyKey() == uuid.Nil.String() {
		return errors.New("id is required")
	}
	if cmd.Sender() == (common.Address{}) {
		return errors.New("from is required")
	}
	for name, v := range amountsOf(cmd) {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

func amountsOf(cmd event.Command) map[string]*big.Int {
	switch c := cmd.(type) {
	case *event.Mint:
		return map[string]*big.Int{"amount": c.Amount, "value": c.Value}
	case *event.MintShort:
		return map[string]*big.Int{"amount": c.Amount, "value": c.Value}
	case *event.Burn:
		return map[string]*big.Int{"amount": c.Amount, "withdraw_amount": c.WithdrawAmount}
	case *event.BurnPowerPerp:
		return map[string]*big.Int{"amount": c.Amount, "withdraw_amount": c.WithdrawAmount}
	case *event.Deposit:
		return map[string]*big.Int{"value": c.Value}
	case *event.Withdraw:
		return map[string]*big.Int{"amount": c.Amount}
	case *event.Liquidate:
		return map[string]*big.Int{"max_debt_amount": c.MaxDebtAmount}
	case *event.RedeemLong:
		return map[string]*big.Int{"amount": c.Amount}
	case *event.Donate:
		return map[string]*big.Int{"value": c.Value}
	case *event.FundWallet:
		return map[string]*big.Int{"amount": c.Amount}
	case *event.WithdrawWallet:
		return map[string]*big.Int{"amount": c.Amount}
	case *event.TransferDebt:
		return map[string]*big.Int{"amount": c.Amount}
	case *event.MintPosition:
		return map[string]*big.Int{"weth_amount": c.WethAmount, "power_perp_amount": c.PowerPerpAmount}
	}
	return nil
}

// PriceUpdate is one pool observation from the feed. Block is the chain
// block it was read at, when the feed knows it.
type PriceUpdate struct {
	Pool      string `json:"-"`
	Block     uint64 `json:"block,omitempty"`
	Timestamp int64  `json:"ts"`
	Tick      int32  `json:"tick"`
}

// ParsePriceUpdate decodes vault.prices.<pool> messages.
func ParsePriceUpdate(subject string, data []byte) (PriceUpdate, error) {
	pool, ok := strings.CutPrefix(subject, PriceSubjectPrefix)
	if !ok || pool == "" {
		return PriceUpdate{}, fmt.Errorf("%w: price subject %q", ErrMalformed, subject)
	}
	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return PriceUpdate{}, fmt.Errorf("%w: parse price update: %v", ErrMalformed, err)
	}
	if u.Timestamp <= 0 {
		return PriceUpdate{}, fmt.Errorf("%w: price update without ts", ErrMalformed)
	}
	u.Pool = pool
	return u, nil
}
