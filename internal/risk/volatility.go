package risk

import "math"

const (
	MinVolatility = 0.01
	MaxVolatility = 2.0
)

// PowerPerpPrice is the model price of one normalized wPowerPerp in quote:
// nf × spot² × exp(σ²τ) / indexScale, τ in years.
func PowerPerpPrice(spot, nf, sigma, tau, indexScale float64) float64 {
	return nf * spot * spot * math.Exp(sigma*sigma*tau) / indexScale
}

// ImpliedVolatility inverts PowerPerpPrice for σ within [1%, 200%].
func ImpliedVolatility(observed, spot, nf, tau, indexScale float64) (float64, bool) {
	if observed <= 0 || spot <= 0 || nf <= 0 || tau <= 0 || indexScale <= 0 {
		return 0, false
	}
	f := func(sigma float64) float64 {
		return PowerPerpPrice(spot, nf, sigma, tau, indexScale) - observed
	}
	return Bisect(f, MinVolatility, MaxVolatility, DefaultMaxIterations, DefaultTolerance)
}
