package core

import (
	"errors"
	"fmt"

	"PowerVault/internal/event"
)

var (
	// ErrNotAuthorized: caller is neither vault owner nor delegated operator,
	// or not the system owner for admin commands.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidState: the operation would leave a vault below the required
	// ratio, or the vault is already safe when liquidation is attempted.
	ErrInvalidState = errors.New("invalid state")

	ErrInsufficientCollateral = fmt.Errorf("%w: insufficient collateral", ErrInvalidState)
	ErrVaultSafe              = fmt.Errorf("%w: vault is safe", ErrInvalidState)

	// ErrInsufficientBalance: burning, withdrawing or redeeming more than is
	// present in the vault, the caller's wallet or engine custody.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrSystemPaused       = errors.New("system paused")
	ErrAlreadyShutDown    = errors.New("system already shut down")
	ErrNotShutDown        = errors.New("system not shut down")
	ErrDustVault          = errors.New("dust vault")
	ErrAlreadyHasPosition = errors.New("vault already has a position")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrVaultNotFound      = errors.New("vault not found")

	// ErrInvalidArgument covers malformed commands (nil amounts, fee above cap).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStaleNonce: a new command reused or regressed its caller's nonce.
	ErrStaleNonce = errors.New("stale caller nonce")
)

// OpError is returned for every rejected command.
type OpError struct {
	Op      event.CommandType
	VaultID uint64
	Err     error
}

func (e *OpError) Error() string {
	if e.VaultID != 0 {
		return fmt.Sprintf("%s vault %d: %v", e.Op, e.VaultID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Reason maps an error to a short metrics/log label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrVaultSafe):
		return "vault_safe"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrSystemPaused):
		return "paused"
	case errors.Is(err, ErrAlreadyShutDown):
		return "shut_down"
	case errors.Is(err, ErrNotShutDown):
		return "not_shut_down"
	case errors.Is(err, ErrDustVault):
		return "dust"
	case errors.Is(err, ErrAlreadyHasPosition):
		return "has_position"
	case errors.Is(err, ErrInvalidPosition):
		return "invalid_position"
	case errors.Is(err, ErrVaultNotFound):
		return "vault_not_found"
	case errors.Is(err, ErrStaleNonce):
		return "stale_nonce"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}
