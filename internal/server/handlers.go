package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/ingestion"
	"PowerVault/internal/observability"
	"PowerVault/internal/oracle"
	"PowerVault/internal/projection"
	"PowerVault/internal/query"
	"PowerVault/internal/risk"
	"PowerVault/internal/state"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const (
	maxCommandBody       = 1 << 20
	defaultPageSize      = 50
	defaultSubmitTimeout = 10 * time.Second
	defaultSolverTimeout = 2 * time.Second
	solverConcurrency    = 8
)

// CommandSubmitter hands a command to the single command loop and waits for
// the outcome.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd event.Command) (*core.Receipt, error)
}

// EngineReader is the live, read-only view of the engine.
type EngineReader interface {
	VaultStatus(id uint64, block event.Block) (*core.VaultView, error)
	LiquidationInput(id uint64, block event.Block) (risk.VaultInput, error)
	VaultsByOwner(owner common.Address) []*state.Vault
	Index(period uint32, now int64) *big.Int
	DenormalizedMark(period uint32, now int64) *big.Int
	NormalizationFactor() *big.Int
	ExpectedNormalizationFactor(block event.Block) *big.Int
	Params() *state.EngineParams
	GetSequence() int64
}

// PositionLister reads LP positions from the position manager.
type PositionLister interface {
	Owned(owner common.Address) []uint64
	PositionOf(id uint64) (vaultlib.Position, error)
}

// AdminFuncs are the operator actions exposed under /v1/admin.
type AdminFuncs struct {
	Snapshot func(ctx context.Context) (int64, error)
	Rebuild  func(ctx context.Context) error
}

// APIConfig wires the HTTP API.
type APIConfig struct {
	Commands      CommandSubmitter
	Engine        EngineReader
	Queries       *query.QueryService
	History       *projection.NormalizationHistory
	Positions     PositionLister
	Admin         AdminFuncs
	Metrics       *observability.Metrics
	RateLimit     float64
	RateBurst     int
	SubmitTimeout time.Duration
	SolverTimeout time.Duration
	Now           func() time.Time

	// StrictEthPrice is the strict ETH TWAP, served for ?strict=true on
	// /v1/oracle. Nil disables it.
	StrictEthPrice func(period uint32, now int64) (*big.Int, error)
}

// API serves commands, live engine reads and projection queries as JSON.
type API struct {
	cfg     APIConfig
	limiter *clientLimiter
	log     zerolog.Logger
}

func NewAPI(cfg APIConfig, logger zerolog.Logger) *API {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.SolverTimeout <= 0 {
		cfg.SolverTimeout = defaultSolverTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &API{
		cfg:     cfg,
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		log:     logger,
	}
}

type apiFunc func(r *http.Request, params map[string]string) (any, error)

type route struct {
	method   string
	pattern  string
	endpoint string
	fn       apiFunc
}

// Register adds every route to mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	routes := []route{
		{"POST", "/v1/commands/{type}", "submit_command", a.submitCommand},

		{"GET", "/v1/vaults/{id}", "get_vault", a.getVault},
		{"GET", "/v1/vaults/{id}/status", "vault_status", a.vaultStatus},
		{"GET", "/v1/vaults/{id}/activity", "vault_activity", a.vaultActivity},
		{"GET", "/v1/vaults/{id}/liquidation-price", "liquidation_price", a.liquidationPrice},
		{"GET", "/v1/owners/{owner}/vaults", "vaults_by_owner", a.vaultsByOwner},
		{"GET", "/v1/owners/{owner}/liquidation-prices", "owner_liquidation_prices", a.ownerLiquidationPrices},
		{"GET", "/v1/owners/{owner}/positions", "owner_positions", a.ownerPositions},
		{"GET", "/v1/wallets/{holder}/balances/{asset}", "wallet_balance", a.walletBalance},
		{"GET", "/v1/wallets/{holder}/journals", "wallet_journals", a.walletJournals},
		{"GET", "/v1/system", "system", a.system},
		{"GET", "/v1/funding/history", "funding_history", a.fundingHistory},
		{"GET", "/v1/funding/recent", "funding_recent", a.fundingRecent},
		{"GET", "/v1/oracle", "oracle", a.oracle},

		{"POST", "/v1/admin/rebuild-projections", "admin_rebuild", a.rebuildProjections},
		{"POST", "/v1/admin/snapshot", "admin_snapshot", a.snapshot},
		{"GET", "/v1/admin/integrity", "admin_integrity", a.integrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.instrument(rt.endpoint, rt.fn)); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (a *API) instrument(endpoint string, fn apiFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := fn(r, params)

		code := http.StatusOK
		if err != nil {
			code = statusFor(err)
			body = errorBody{Error: err.Error(), Reason: reasonFor(err)}
			if code >= http.StatusInternalServerError {
				a.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
		}
		writeJSON(w, code, body)

		if m := a.cfg.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// ============================================================================
// Commands
// ============================================================================

var errRateLimited = errors.New("rate limit exceeded")

func (a *API) submitCommand(r *http.Request, p map[string]string) (any, error) {
	if !a.limiter.Allow(clientID(r)) {
		return nil, errRateLimited
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", query.ErrBadRequest, err)
	}
	cmd, err := ingestion.ParseCommand(p["type"], data)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.SubmitTimeout)
	defer cancel()
	receipt, err := a.cfg.Commands.Submit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return newReceiptResponse(receipt), nil
}

type receiptResponse struct {
	Sequence            int64         `json:"sequence"`
	Command             string        `json:"command"`
	VaultID             uint64        `json:"vault_id,omitempty"`
	Duplicate           bool          `json:"duplicate"`
	StateHash           string        `json:"state_hash,omitempty"`
	Minted              *query.Amount `json:"minted,omitempty"`
	Burned              *query.Amount `json:"burned,omitempty"`
	Fee                 *query.Amount `json:"fee,omitempty"`
	Payout              *query.Amount `json:"payout,omitempty"`
	Bounty              *query.Amount `json:"bounty,omitempty"`
	DebtRepaid          *query.Amount `json:"debt_repaid,omitempty"`
	Outcome             string        `json:"outcome,omitempty"`
	NftID               uint64        `json:"nft_id,omitempty"`
	NormalizationFactor *query.Amount `json:"normalization_factor,omitempty"`
}

func newReceiptResponse(rc *core.Receipt) receiptResponse {
	resp := receiptResponse{
		Sequence:            rc.Sequence,
		Command:             rc.Command.String(),
		VaultID:             rc.VaultID,
		Duplicate:           rc.Duplicate,
		Minted:              optAmount(rc.Minted),
		Burned:              optAmount(rc.Burned),
		Fee:                 optAmount(rc.Fee),
		Payout:              optAmount(rc.Payout),
		Bounty:              optAmount(rc.Bounty),
		DebtRepaid:          optAmount(rc.DebtRepaid),
		Outcome:             rc.Outcome,
		NftID:               rc.NftID,
		NormalizationFactor: optAmount(rc.NormalizationFactor),
	}
	if rc.StateHash != ([32]byte{}) {
		resp.StateHash = fmt.Sprintf("%x", rc.StateHash)
	}
	return resp
}

// ============================================================================
// Vaults
// ============================================================================

func (a *API) getVault(r *http.Request, p map[string]string) (any, error) {
	id, err := vaultIDParam(p)
	if err != nil {
		return nil, err
	}
	return a.cfg.Queries.GetVault(r.Context(), id)
}

type vaultStatusResponse struct {
	VaultID             uint64        `json:"vault_id"`
	Owner               string        `json:"owner"`
	Operator            string        `json:"operator"`
	Collateral          query.Amount  `json:"collateral"`
	Short               query.Amount  `json:"short"`
	NftCollateralID     uint64        `json:"nft_collateral_id"`
	State               string        `json:"state"`
	EffectiveCollateral query.Amount  `json:"effective_collateral"`
	DebtValue           query.Amount  `json:"debt_value"`
	CollateralRatio     *query.Amount `json:"collateral_ratio,omitempty"`
	IsSafe              bool          `json:"is_safe"`
	IsDust              bool          `json:"is_dust"`
	NormalizationFactor query.Amount  `json:"normalization_factor"`
	EthPrice            query.Amount  `json:"eth_price"`
	Time                int64         `json:"time"`
	AsOfSequence        int64         `json:"as_of_sequence"`
}

// vaultStatus values the vault as a command at ?time= (default now) would.
func (a *API) vaultStatus(r *http.Request, p map[string]string) (any, error) {
	id, err := vaultIDParam(p)
	if err != nil {
		return nil, err
	}
	block, err := a.blockParam(r)
	if err != nil {
		return nil, err
	}

	seq := a.cfg.Engine.GetSequence()
	view, err := a.cfg.Engine.VaultStatus(id, block)
	if err != nil {
		return nil, err
	}
	v := view.Vault
	return vaultStatusResponse{
		VaultID:             v.ID,
		Owner:               v.Owner.Hex(),
		Operator:            v.Operator.Hex(),
		Collateral:          amount(v.CollateralAmount),
		Short:               amount(v.ShortAmount),
		NftCollateralID:     v.NftCollateralID,
		State:               view.State.String(),
		EffectiveCollateral: amount(view.Status.EffectiveCollateral),
		DebtValue:           amount(view.Status.DebtValue),
		CollateralRatio:     optAmount(view.Status.CollateralRatio),
		IsSafe:              view.Status.IsSafe,
		IsDust:              view.Status.IsDust,
		NormalizationFactor: amount(view.NormalizationFactor),
		EthPrice:            amount(view.EthPrice),
		Time:                block.Time,
		AsOfSequence:        seq,
	}, nil
}

func (a *API) vaultActivity(r *http.Request, p map[string]string) (any, error) {
	id, err := vaultIDParam(p)
	if err != nil {
		return nil, err
	}
	limit, before, err := pageParams(r, "before")
	if err != nil {
		return nil, err
	}
	entries, err := a.cfg.Queries.GetVaultActivity(r.Context(), id, limit, before)
	if err != nil {
		return nil, err
	}
	return listResponse[query.VaultActivityEntry]{Items: entries}, nil
}

type liquidationPriceResponse struct {
	VaultID   uint64  `json:"vault_id"`
	EthPrice  float64 `json:"eth_price"`
	Converged bool    `json:"converged"`
	Time      int64   `json:"time"`
}

func (a *API) liquidationPrice(r *http.Request, p map[string]string) (any, error) {
	id, err := vaultIDParam(p)
	if err != nil {
		return nil, err
	}
	block, err := a.blockParam(r)
	if err != nil {
		return nil, err
	}
	input, err := a.cfg.Engine.LiquidationInput(id, block)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.SolverTimeout)
	defer cancel()
	res, err := risk.SolveWithDeadline(ctx, func() (float64, bool) { return risk.LiquidationPrice(input) })
	if err != nil {
		return nil, err
	}
	a.recordSolve(res.Converged)
	return liquidationPriceResponse{VaultID: id, EthPrice: res.Value, Converged: res.Converged, Time: block.Time}, nil
}

// ownerLiquidationPrices solves every vault of an owner concurrently.
func (a *API) ownerLiquidationPrices(r *http.Request, p map[string]string) (any, error) {
	owner, err := addressParam(p, "owner")
	if err != nil {
		return nil, err
	}
	block, err := a.blockParam(r)
	if err != nil {
		return nil, err
	}

	vaults := a.cfg.Engine.VaultsByOwner(owner)
	inputs := make([]risk.VaultInput, 0, len(vaults))
	for _, v := range vaults {
		in, err := a.cfg.Engine.LiquidationInput(v.ID, block)
		if err != nil {
			return nil, err
		}
		in.VaultID = v.ID
		inputs = append(inputs, in)
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.SolverTimeout)
	defer cancel()
	results, err := risk.BatchLiquidationPrices(ctx, inputs, solverConcurrency)
	if err != nil {
		return nil, err
	}

	out := make([]liquidationPriceResponse, len(results))
	for i, res := range results {
		a.recordSolve(res.Converged)
		out[i] = liquidationPriceResponse{
			VaultID:   inputs[i].VaultID,
			EthPrice:  res.Value,
			Converged: res.Converged,
			Time:      block.Time,
		}
	}
	return listResponse[liquidationPriceResponse]{Items: out}, nil
}

func (a *API) recordSolve(converged bool) {
	if m := a.cfg.Metrics; m != nil {
		m.SolverRuns.WithLabelValues("liquidation_price", strconv.FormatBool(converged)).Inc()
	}
}

func (a *API) vaultsByOwner(r *http.Request, p map[string]string) (any, error) {
	owner, err := addressParam(p, "owner")
	if err != nil {
		return nil, err
	}
	vaults, err := a.cfg.Queries.GetVaultsByOwner(r.Context(), owner)
	if err != nil {
		return nil, err
	}
	return listResponse[query.VaultResponse]{Items: vaults}, nil
}

type positionResponse struct {
	NftID     uint64       `json:"nft_id"`
	Token0    string       `json:"token0"`
	Token1    string       `json:"token1"`
	TickLower int32        `json:"tick_lower"`
	TickUpper int32        `json:"tick_upper"`
	Liquidity query.Amount `json:"liquidity"`
	Owed0     query.Amount `json:"tokens_owed0"`
	Owed1     query.Amount `json:"tokens_owed1"`
}

// ownerPositions lists the LP NFTs an address holds in its wallet. Positions
// deposited into a vault belong to the engine and show up on the vault.
func (a *API) ownerPositions(_ *http.Request, p map[string]string) (any, error) {
	if a.cfg.Positions == nil {
		return nil, fmt.Errorf("positions: %w", errUnavailable)
	}
	owner, err := addressParam(p, "owner")
	if err != nil {
		return nil, err
	}

	ids := a.cfg.Positions.Owned(owner)
	out := make([]positionResponse, 0, len(ids))
	for _, id := range ids {
		pos, err := a.cfg.Positions.PositionOf(id)
		if err != nil {
			// Transferred away between the two reads.
			continue
		}
		out = append(out, positionResponse{
			NftID:     id,
			Token0:    pos.Token0.Hex(),
			Token1:    pos.Token1.Hex(),
			TickLower: pos.TickLower,
			TickUpper: pos.TickUpper,
			Liquidity: u256Amount(pos.Liquidity),
			Owed0:     u256Amount(pos.TokensOwed0),
			Owed1:     u256Amount(pos.TokensOwed1),
		})
	}
	return listResponse[positionResponse]{Items: out}, nil
}

// ============================================================================
// Wallets
// ============================================================================

func (a *API) walletBalance(r *http.Request, p map[string]string) (any, error) {
	holder, err := addressParam(p, "holder")
	if err != nil {
		return nil, err
	}
	return a.cfg.Queries.GetWalletBalance(r.Context(), holder, p["asset"])
}

func (a *API) walletJournals(r *http.Request, p map[string]string) (any, error) {
	holder, err := addressParam(p, "holder")
	if err != nil {
		return nil, err
	}
	limit, after, err := pageParams(r, "after")
	if err != nil {
		return nil, err
	}
	entries, err := a.cfg.Queries.GetJournalHistory(r.Context(), holder, limit, after)
	if err != nil {
		return nil, err
	}
	return listResponse[query.JournalHistoryEntry]{Items: entries}, nil
}

// ============================================================================
// System, funding, oracle
// ============================================================================

func (a *API) system(r *http.Request, _ map[string]string) (any, error) {
	return a.cfg.Queries.GetSystemState(r.Context())
}

func (a *API) fundingHistory(r *http.Request, _ map[string]string) (any, error) {
	limit, before, err := pageParams(r, "before")
	if err != nil {
		return nil, err
	}
	points, err := a.cfg.Queries.GetNormalizationHistory(r.Context(), limit, before)
	if err != nil {
		return nil, err
	}
	return listResponse[query.NormalizationPoint]{Items: points}, nil
}

// fundingRecent serves the in-memory window: ?since=<unix> oldest first,
// otherwise the newest ?limit= points.
func (a *API) fundingRecent(r *http.Request, _ map[string]string) (any, error) {
	var points []projection.FactorPoint
	if s := r.URL.Query().Get("since"); s != "" {
		since, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: since: %v", query.ErrBadRequest, err)
		}
		points = a.cfg.History.Since(since)
	} else {
		limit, _, err := pageParams(r, "")
		if err != nil {
			return nil, err
		}
		points = a.cfg.History.Recent(limit)
	}

	out := make([]query.NormalizationPoint, len(points))
	for i, pt := range points {
		out[i] = query.NormalizationPoint{
			Sequence:  pt.Sequence,
			Step:      pt.Step,
			Timestamp: pt.Timestamp,
			Factor:    amount(pt.Factor),
			Mark:      amount(pt.Mark),
			Index:     amount(pt.Index),
		}
	}
	return listResponse[query.NormalizationPoint]{Items: out}, nil
}

type oracleResponse struct {
	Period                      uint32        `json:"period"`
	Time                        int64         `json:"time"`
	Index                       query.Amount  `json:"index"`
	Mark                        query.Amount  `json:"mark"`
	NormalizationFactor         query.Amount  `json:"normalization_factor"`
	ExpectedNormalizationFactor query.Amount  `json:"expected_normalization_factor"`
	EthPrice                    *query.Amount `json:"eth_price,omitempty"`
}

// oracle reports the TWAP index and mark over ?period= (default the
// engine's TWAP period) ending at ?time=.
func (a *API) oracle(r *http.Request, _ map[string]string) (any, error) {
	block, err := a.blockParam(r)
	if err != nil {
		return nil, err
	}
	period := a.cfg.Engine.Params().TwapPeriod
	if s := r.URL.Query().Get("period"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("%w: period must be a positive number of seconds", query.ErrBadRequest)
		}
		period = uint32(v)
	}
	resp := oracleResponse{
		Period:                      period,
		Time:                        block.Time,
		Index:                       amount(a.cfg.Engine.Index(period, block.Time)),
		Mark:                        amount(a.cfg.Engine.DenormalizedMark(period, block.Time)),
		NormalizationFactor:         amount(a.cfg.Engine.NormalizationFactor()),
		ExpectedNormalizationFactor: amount(a.cfg.Engine.ExpectedNormalizationFactor(block)),
	}
	if r.URL.Query().Get("strict") == "true" {
		if a.cfg.StrictEthPrice == nil {
			return nil, fmt.Errorf("strict oracle: %w", errUnavailable)
		}
		price, err := a.cfg.StrictEthPrice(period, block.Time)
		if err != nil {
			return nil, err
		}
		eth := amount(price)
		resp.EthPrice = &eth
	}
	return resp, nil
}

// ============================================================================
// Admin
// ============================================================================

var errUnavailable = errors.New("not available")

func (a *API) rebuildProjections(r *http.Request, _ map[string]string) (any, error) {
	if a.cfg.Admin.Rebuild == nil {
		return nil, errUnavailable
	}
	if err := a.cfg.Admin.Rebuild(r.Context()); err != nil {
		return nil, err
	}
	return map[string]string{"status": "rebuilt"}, nil
}

func (a *API) snapshot(r *http.Request, _ map[string]string) (any, error) {
	if a.cfg.Admin.Snapshot == nil {
		return nil, errUnavailable
	}
	seq, err := a.cfg.Admin.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}

func (a *API) integrity(r *http.Request, _ map[string]string) (any, error) {
	return a.cfg.Queries.VerifyIntegrity(r.Context())
}

// ============================================================================
// Helpers
// ============================================================================

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ingestion.ErrMalformed), errors.Is(err, query.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrVaultNotFound), errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrStaleNonce),
		errors.Is(err, oracle.ErrStaleObservation),
		errors.Is(err, core.ErrAlreadyShutDown),
		errors.Is(err, core.ErrNotShutDown):
		return http.StatusConflict
	case errors.Is(err, core.ErrSystemPaused):
		return http.StatusLocked
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrDustVault),
		errors.Is(err, core.ErrAlreadyHasPosition),
		errors.Is(err, core.ErrInvalidPosition),
		errors.Is(err, core.ErrInvalidArgument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errUnavailable), errors.Is(err, ingestion.ErrNoChainHead):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, ingestion.ErrMalformed), errors.Is(err, query.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, query.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, oracle.ErrStaleObservation):
		return "stale_observation"
	case errors.Is(err, ingestion.ErrNoChainHead):
		return "no_chain_head"
	}
	return core.Reason(err)
}

func amount(v *big.Int) query.Amount {
	if v == nil {
		return query.NewAmount("0")
	}
	return query.NewAmount(v.String())
}

func u256Amount(v *uint256.Int) query.Amount {
	if v == nil {
		return query.NewAmount("0")
	}
	return query.NewAmount(v.Dec())
}

func optAmount(v *big.Int) *query.Amount {
	if v == nil {
		return nil
	}
	a := amount(v)
	return &a
}

func vaultIDParam(p map[string]string) (uint64, error) {
	id, err := strconv.ParseUint(p["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid vault id %q", query.ErrBadRequest, p["id"])
	}
	return id, nil
}

func addressParam(p map[string]string, name string) (common.Address, error) {
	v := p[name]
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", query.ErrBadRequest, name, v)
	}
	return common.HexToAddress(v), nil
}

// blockParam builds the hypothetical block a read is evaluated at. Without
// ?block= the block number is treated as beyond any applied funding step.
func (a *API) blockParam(r *http.Request) (event.Block, error) {
	q := r.URL.Query()
	block := event.Block{Number: math.MaxUint64, Time: a.cfg.Now().Unix()}
	if s := q.Get("time"); s != "" {
		t, err := strconv.ParseInt(s, 10, 64)
		if err != nil || t <= 0 {
			return event.Block{}, fmt.Errorf("%w: time must be a positive unix timestamp", query.ErrBadRequest)
		}
		block.Time = t
	}
	if s := q.Get("block"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return event.Block{}, fmt.Errorf("%w: block: %v", query.ErrBadRequest, err)
		}
		block.Number = n
	}
	return block, nil
}

// pageParams reads ?limit= and the optional sequence cursor named cursor.
func pageParams(r *http.Request, cursor string) (int, *int64, error) {
	q := r.URL.Query()
	limit := defaultPageSize
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return 0, nil, fmt.Errorf("%w: limit must be a positive integer", query.ErrBadRequest)
		}
		limit = v
	}
	if cursor == "" {
		return limit, nil, nil
	}
	s := q.Get(cursor)
	if s == "" {
		return limit, nil, nil
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", query.ErrBadRequest, cursor, err)
	}
	return limit, &seq, nil
}
