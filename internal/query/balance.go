package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"PowerVault/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceResponse is one projected account balance.
type BalanceResponse struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	Balance      Amount `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetWalletBalance returns a holder's wallet balance of asset ("ETH" or
// "WPOWERPERP"). Accounts that never moved report zero.
func (qs *QueryService) GetWalletBalance(ctx context.Context, holder common.Address, asset string) (*BalanceResponse, error) {
	id, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("%w: unknown asset %q", ErrBadRequest, asset)
	}
	return qs.GetBalance(ctx, ledger.WalletKey(holder, id))
}

// GetBalance returns the projected balance of any ledger account.
func (qs *QueryService) GetBalance(ctx context.Context, key ledger.AccountKey) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BalanceResponse{
		Account:      key.AccountPath(),
		Asset:        key.AssetID.String(),
		Balance:      NewAmount("0"),
		AsOfSequence: asOfSeq,
	}

	var balance string
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text, last_sequence FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, resp.Account, int32(key.AssetID)).Scan(&balance, &resp.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	resp.Balance = NewAmount(balance)
	return resp, nil
}
