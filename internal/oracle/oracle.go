// Package oracle answers time-weighted average price questions over
// Uniswap-V3 style cumulative tick logs.
package oracle

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PowerVault/internal/math"

	"github.com/holiman/uint256"
)

var (
	// ErrStaleObservation is returned by the strict path when the requested
	// window predates the pool's oldest observation.
	ErrStaleObservation = errors.New("oracle: requested period predates oldest observation")

	// ErrNoObservations means the pool has no history at all.
	ErrNoObservations = errors.New("oracle: pool has no observations")

	// ErrTokenNotInPool means base or quote is not one of the pool tokens.
	ErrTokenNotInPool = errors.New("oracle: token not in pool")
)

// Oracle is stateless; all methods are safe for concurrent use.
type Oracle struct{}

func New() *Oracle {
	return &Oracle{}
}

// Twap returns the wad price of one whole base token in quote over the last
// period seconds ending at now.
func (o *Oracle) Twap(pool Pool, base, quote Token, period uint32, now int64) (*big.Int, error) {
	baseIsToken0, err := orientation(pool, base, quote)
	if err != nil {
		return nil, err
	}
	tick, err := o.TwapTick(pool, period, now)
	if err != nil {
		return nil, err
	}
	return quoteAtTick(tick, base, quote, baseIsToken0)
}

// TwapSafe never fails. The period is clamped to what the pool can answer,
// falling back to the spot tick, and 0 is returned if even that fails.
func (o *Oracle) TwapSafe(pool Pool, base, quote Token, period uint32, now int64) *big.Int {
	baseIsToken0, err := orientation(pool, base, quote)
	if err != nil {
		return new(big.Int)
	}
	tick, ok := o.TwapTickSafe(pool, period, now)
	if !ok {
		return new(big.Int)
	}
	price, err := quoteAtTick(tick, base, quote, baseIsToken0)
	if err != nil {
		return new(big.Int)
	}
	return price
}

// TwapTick returns the arithmetic mean tick over the last period seconds,
// rounded toward negative infinity. A zero period reads the spot tick.
func (o *Oracle) TwapTick(pool Pool, period uint32, now int64) (int32, error) {
	if period == 0 {
		_, tick := pool.Slot0()
		return tick, nil
	}
	start := now - int64(period)
	obs, err := pool.ObservationsSince(start)
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, ErrNoObservations
	}
	if obs[0].Timestamp > start {
		return 0, fmt.Errorf("%w: window starts at %d, oldest is %d", ErrStaleObservation, start, obs[0].Timestamp)
	}

	_, spotTick := pool.Slot0()
	cumStart := cumulativeAt(obs, start, spotTick)
	cumEnd := cumulativeAt(obs, now, spotTick)

	delta := cumEnd - cumStart
	mean := delta / int64(period)
	if delta < 0 && delta%int64(period) != 0 {
		mean--
	}
	return int32(mean), nil
}

// TwapTickSafe is the non-failing variant of TwapTick. ok is false only when
// the pool has no readable history.
func (o *Oracle) TwapTickSafe(pool Pool, period uint32, now int64) (int32, bool) {
	maxPeriod, err := o.MaxPeriod(pool, now)
	if err != nil {
		return 0, false
	}
	if period > maxPeriod {
		period = maxPeriod
	}
	tick, err := o.TwapTick(pool, period, now)
	if err != nil {
		return 0, false
	}
	return tick, true
}

// MaxPeriod is the longest window the pool can answer at now.
func (o *Oracle) MaxPeriod(pool Pool, now int64) (uint32, error) {
	obs, err := pool.ObservationsSince(0)
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, ErrNoObservations
	}
	span := now - obs[0].Timestamp
	if span <= 0 {
		return 0, nil
	}
	if span > int64(^uint32(0)) {
		return ^uint32(0), nil
	}
	return uint32(span), nil
}

// cumulativeAt interpolates the tick cumulative at ts. Beyond the newest
// observation the current tick is extrapolated, as the pool itself does.
func cumulativeAt(obs []Observation, ts int64, spotTick int32) int64 {
	last := obs[len(obs)-1]
	if ts >= last.Timestamp {
		return last.TickCumulative + int64(spotTick)*(ts-last.Timestamp)
	}
	for i := len(obs) - 1; i > 0; i-- {
		before, after := obs[i-1], obs[i]
		if ts >= before.Timestamp {
			if ts == before.Timestamp {
				return before.TickCumulative
			}
			slope := (after.TickCumulative - before.TickCumulative) / (after.Timestamp - before.Timestamp)
			return before.TickCumulative + slope*(ts-before.Timestamp)
		}
	}
	return obs[0].TickCumulative
}

func orientation(pool Pool, base, quote Token) (bool, error) {
	t0, t1 := pool.Token0(), pool.Token1()
	switch {
	case base.Address == t0 && quote.Address == t1:
		return true, nil
	case base.Address == t1 && quote.Address == t0:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s/%s", ErrTokenNotInPool, base.Address.Hex(), quote.Address.Hex())
	}
}

func quoteAtTick(tick int32, base, quote Token, baseIsToken0 bool) (*big.Int, error) {
	baseAmount, _ := uint256.FromBig(fpmath.Pow10(base.Decimals))
	raw, err := fpmath.GetQuoteAtTick(tick, baseAmount, baseIsToken0)
	if err != nil {
		return nil, err
	}
	return fpmath.ScaleToWad(raw.ToBig(), quote.Decimals), nil
}
