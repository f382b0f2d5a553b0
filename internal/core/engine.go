package core

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	fpmath "PowerVault/internal/math"
	"PowerVault/internal/observability"
	"PowerVault/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Config fixes the identity and economics of one engine instance.
type Config struct {
	// Address is the engine's custody account: vault collateral, deposited
	// LP NFTs and donations are held here.
	Address common.Address
	Owner   common.Address
	Tokens  Tokens
	Params  *state.EngineParams
	// Genesis is the block the normalization factor starts counting from.
	Genesis event.Block

	IdempotencyCapacity int
}

// Dependencies are the collaborators and output channels.
type Dependencies struct {
	Feed      PriceFeed
	Positions PositionManager
	DBChecker DBIdempotencyChecker
	Metrics   *observability.Metrics
	Logger    *zerolog.Logger

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

// CoreOutput is everything one committed command produced.
type CoreOutput struct {
	Envelope   *event.Envelope
	Batch      *ledger.Batch // nil for state-only commands
	Vaults     []*state.Vault
	System     *state.SystemState
	Funding    *state.FundingSnapshot // set when the factor moved
	StateDelta []byte
}

// Receipt describes a committed (or deduplicated) command to its caller.
type Receipt struct {
	Sequence  int64
	Command   event.CommandType
	VaultID   uint64
	Duplicate bool
	StateHash [32]byte

	Minted     *big.Int // wPowerPerp issued to the caller
	Burned     *big.Int // wPowerPerp retired
	Fee        *big.Int // ETH
	Payout     *big.Int // ETH paid out by the engine
	Bounty     *big.Int // ETH paid to a liquidator for an LP redemption
	DebtRepaid *big.Int
	Outcome    string
	NftID      uint64 // LP position minted by MintPosition

	NormalizationFactor *big.Int
}

// Engine is the vault state machine. Execute serializes every mutation
// under one write lock; queries share a read lock.
type Engine struct {
	mu sync.RWMutex

	cfg             Config
	params          *state.EngineParams
	sequence        int64
	head            event.Block // block of the last committed command
	chain           *HashChain
	balances        *ledger.BalanceTracker
	validator       *ledger.InvariantValidator
	vaults          *state.VaultStore
	funding         *state.FundingManager
	system          *state.SystemState
	totalCollateral *big.Int

	feed        PriceFeed
	positions   PositionManager
	idempotency *IdempotencyChecker
	nonces      *NonceValidator
	metrics     *observability.Metrics
	log         zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.Params == nil {
		cfg.Params = state.DefaultParams()
	}
	if err := state.ValidateParams(cfg.Params); err != nil {
		return nil, fmt.Errorf("engine params: %w", err)
	}
	if deps.Feed == nil {
		return nil, fmt.Errorf("engine requires a price feed")
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}

	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	balances := ledger.NewBalanceTracker()
	return &Engine{
		cfg:             cfg,
		params:          cfg.Params.Clone(),
		sequence:        1,
		head:            cfg.Genesis,
		chain:           NewHashChain(),
		balances:        balances,
		validator:       ledger.NewInvariantValidator(balances),
		vaults:          state.NewVaultStore(),
		funding:         state.NewFundingManager(cfg.Genesis.Time),
		system:          state.NewSystemState(cfg.Owner, cfg.Params.PauseBudget),
		totalCollateral: new(big.Int),
		feed:            deps.Feed,
		positions:       deps.Positions,
		idempotency:     NewIdempotencyChecker(cfg.IdempotencyCapacity, deps.DBChecker),
		nonces:          NewNonceValidator(),
		metrics:         deps.Metrics,
		log:             logger,
		persistChan:     deps.PersistChan,
		projectionChan:  deps.ProjectionChan,
	}, nil
}

// Execute is the main processing pipeline: dedup, nonce ordering, staged
// execution, atomic commit, state hash, output fan-out.
func (e *Engine) Execute(cmd event.Command) (*Receipt, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	ct := cmd.CommandType()
	name := ct.String()
	key := cmd.IdempotencyKey()

	// Step 1: idempotency (two-tier)
	if dup, tier := e.idempotency.IsDuplicate(name, key); dup {
		if e.metrics != nil {
			e.metrics.IdempotencyDuplicates.WithLabelValues(name, tier).Inc()
		}
		e.log.Debug().Str("op", name).Str("key", key).Str("tier", tier).Msg("duplicate command skipped")
		return &Receipt{Command: ct, VaultID: event.VaultOf(cmd), Duplicate: true}, nil
	}

	// Step 2: caller nonce
	if err := e.nonces.Validate(cmd.Sender(), cmd.SourceSequence()); err != nil {
		if e.metrics != nil {
			e.metrics.NonceRegressions.Inc()
		}
		return nil, e.reject(ct, event.VaultOf(cmd), err)
	}

	// Step 3: block context
	if err := e.checkBlock(cmd.At()); err != nil {
		return nil, e.reject(ct, event.VaultOf(cmd), err)
	}

	// Step 4: stage
	tx := e.begin(cmd)
	if err := e.dispatch(tx); err != nil {
		return nil, e.reject(ct, tx.targetVault(), err)
	}

	// Step 5: commit
	out, err := e.commit(tx)
	if err != nil {
		return nil, e.reject(ct, tx.targetVault(), err)
	}

	// Step 6: emit. Persistence is a blocking send (backpressure);
	// projections are best effort and rebuild from the log if they fall
	// behind.
	if e.persistChan != nil {
		e.persistChan <- *out
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- *out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	e.idempotency.MarkProcessed(name, key)
	e.nonces.Advance(cmd.Sender(), cmd.SourceSequence())

	receipt := tx.receipt
	receipt.Sequence = out.Envelope.Sequence
	receipt.Command = ct
	receipt.VaultID = tx.targetVault()
	receipt.StateHash = out.Envelope.StateHash

	if e.metrics != nil {
		e.metrics.CommandsApplied.WithLabelValues(name).Inc()
		e.metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
		e.metrics.DedupLRUSize.Set(float64(e.idempotency.lru.Size()))
		e.metrics.VaultsOpen.Set(float64(e.vaults.Count()))
		e.metrics.SystemStatus.Set(float64(e.system.Status()))
		e.metrics.PausesLeft.Set(float64(e.system.PausesLeft))
		e.metrics.NormalizationFactor.Set(fpmath.WadToFloat(e.funding.Factor()))
		if out.Batch != nil {
			for _, j := range out.Batch.Journals {
				e.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}
	e.log.Debug().
		Str("op", name).
		Uint64("vault_id", receipt.VaultID).
		Int64("sequence", receipt.Sequence).
		Msg("command applied")

	return receipt, nil
}

// checkBlock rejects a block context behind the last committed one. Commands
// may share a block, so equal number and time pass.
func (e *Engine) checkBlock(b event.Block) error {
	if b.Number < e.head.Number || b.Time < e.head.Time {
		return fmt.Errorf("%w: block %d at %d is behind head %d at %d",
			ErrInvalidArgument, b.Number, b.Time, e.head.Number, e.head.Time)
	}
	return nil
}

func (e *Engine) reject(ct event.CommandType, vaultID uint64, err error) error {
	reason := Reason(err)
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(ct.String(), reason).Inc()
	}
	e.log.Warn().
		Str("op", ct.String()).
		Uint64("vault_id", vaultID).
		Str("reason", reason).
		Err(err).
		Msg("command rejected")
	return &OpError{Op: ct, VaultID: vaultID, Err: err}
}

func (e *Engine) dispatch(tx *txn) error {
	switch c := tx.cmd.(type) {
	case *event.Mint:
		return e.handleMint(tx, c.VaultID, c.Amount, false, c.Value, c.NftID)
	case *event.MintShort:
		return e.handleMint(tx, c.VaultID, c.Amount, true, c.Value, c.NftID)
	case *event.Burn:
		return e.handleBurn(tx, c.VaultID, c.Amount, true, c.WithdrawAmount)
	case *event.BurnPowerPerp:
		return e.handleBurn(tx, c.VaultID, c.Amount, false, c.WithdrawAmount)
	case *event.Deposit:
		return e.handleDeposit(tx, c)
	case *event.Withdraw:
		return e.handleWithdraw(tx, c)
	case *event.DepositPosition:
		return e.handleDepositPosition(tx, c)
	case *event.WithdrawPosition:
		return e.handleWithdrawPosition(tx, c)
	case *event.UpdateOperator:
		return e.handleUpdateOperator(tx, c)
	case *event.Liquidate:
		return e.handleLiquidate(tx, c)
	case *event.ReduceDebt:
		return e.handleReduceDebt(tx, c)
	case *event.ApplyFunding:
		return e.handleApplyFunding(tx)
	case *event.Pause:
		return e.handlePause(tx)
	case *event.UnpauseOwner:
		return e.handleUnpauseOwner(tx)
	case *event.UnpauseAnyone:
		return e.handleUnpauseAnyone(tx)
	case *event.ShutDown:
		return e.handleShutDown(tx, false)
	case *event.PauseAndShutDown:
		return e.handleShutDown(tx, true)
	case *event.RedeemLong:
		return e.handleRedeemLong(tx, c)
	case *event.RedeemShort:
		return e.handleRedeemShort(tx, c)
	case *event.Donate:
		return e.handleDonate(tx, c)
	case *event.SetFeeRate:
		return e.handleSetFeeRate(tx, c)
	case *event.SetFeeRecipient:
		return e.handleSetFeeRecipient(tx, c)
	case *event.TransferOwnership:
		return e.handleTransferOwnership(tx, c)
	case *event.FundWallet:
		return e.handleFundWallet(tx, c)
	case *event.WithdrawWallet:
		return e.handleWithdrawWallet(tx, c)
	case *event.TransferDebt:
		return e.handleTransferDebt(tx, c)
	case *event.MintPosition:
		return e.handleMintPosition(tx, c)
	default:
		return fmt.Errorf("%w: unhandled command %T", ErrInvalidArgument, tx.cmd)
	}
}

// commit applies a fully staged command. Order matters: the ledger batch is
// dry-run first so the only effect that can still fail after the position
// manager moved an NFT is an invariant breach, which is fatal.
func (e *Engine) commit(tx *txn) (*CoreOutput, error) {
	batch := tx.batch.Batch()
	hasJournals := len(batch.Journals) > 0

	if hasJournals {
		if err := batch.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := e.balances.CheckBatch(batch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
		}
	}

	if tx.position != nil {
		nftID, err := tx.position.apply(e.positions, e.cfg.Tokens.WethIsToken0())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
		}
		if tx.position.kind == effectMint {
			tx.receipt.NftID = nftID
		}
	}

	if hasJournals {
		if err := e.balances.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: batch failed after dry run: %v", err))
		}
	}

	ids := make([]uint64, 0, len(tx.vaults))
	for id := range tx.vaults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	changed := make([]*state.Vault, 0, len(ids))
	for _, id := range ids {
		v := tx.vaults[id]
		if prev, ok := e.vaults.Get(id); ok {
			e.totalCollateral.Sub(e.totalCollateral, prev.CollateralAmount)
		}
		e.totalCollateral.Add(e.totalCollateral, v.CollateralAmount)
		v.Version = e.sequence
		e.vaults.Put(v)
		changed = append(changed, v.Clone())
	}

	var system *state.SystemState
	if tx.system != nil {
		e.system = tx.system
		system = tx.system.Clone()
	}
	if tx.funding != nil {
		e.funding.Apply(tx.funding)
		if e.metrics != nil {
			e.metrics.FundingApplied.Inc()
		}
	}
	if tx.freeze {
		e.funding.Freeze()
	}

	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	digest := e.computeStateDigest(batch, changed)
	stateHash := e.chain.Link(e.sequence, digest)

	payload, err := event.EncodePayload(tx.cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	out := &CoreOutput{
		Envelope: &event.Envelope{
			Sequence:       e.sequence,
			IdempotencyKey: tx.cmd.IdempotencyKey(),
			CommandType:    tx.cmd.CommandType(),
			Caller:         tx.caller,
			VaultID:        tx.targetVault(),
			Block:          tx.block,
			SourceSequence: tx.cmd.SourceSequence(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       tx.prevHash,
		},
		Vaults:     changed,
		System:     system,
		Funding:    tx.funding,
		StateDelta: digest,
	}
	if hasJournals {
		out.Batch = batch
	}
	e.head = tx.block
	e.sequence++
	return out, nil
}

// postCheckInvariants: the ledger is zero-sum with no user or system
// account below zero, and while live custody holds at least every vault's
// collateral.
func (e *Engine) postCheckInvariants() error {
	if err := e.validator.ValidateNonNegative(); err != nil {
		return err
	}
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if e.system.ShutDown {
		return nil
	}
	custody := e.balances.GetBalance(ledger.CustodyKey(e.cfg.Address, ledger.AssetETH))
	if custody.Cmp(e.totalCollateral) < 0 {
		return fmt.Errorf("custody %s below total collateral %s", custody, e.totalCollateral)
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: touched
// accounts, touched vaults, system flags and the normalization factor.
func (e *Engine) computeStateDigest(batch *ledger.Batch, vaults []*state.Vault) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*96+len(vaults)*128+128)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		bal := e.balances.GetBalance(key)
		digest = append(digest, byte(bal.Sign()+1))
		b := bal.Bytes()
		digest = append(digest, byte(len(b)))
		digest = append(digest, b...)
	}
	for _, v := range vaults {
		digest = append(digest, v.CanonicalBytes()...)
	}
	digest = append(digest, e.system.CanonicalBytes()...)
	nf := e.funding.Factor().Bytes()
	digest = append(digest, byte(len(nf)))
	return append(digest, nf...)
}

// GetSequence returns the next global sequence number.
func (e *Engine) GetSequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// Head returns the block of the last committed command (genesis before the
// first).
func (e *Engine) Head() event.Block {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.head
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chain.Tip()
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
