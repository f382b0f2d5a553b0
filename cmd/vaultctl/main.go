package main

import (
	"fmt"
	"math/big"
	"os"

	"PowerVault/internal/config"
	fpmath "PowerVault/internal/math"
	"PowerVault/internal/risk"
	"PowerVault/internal/vaultlib"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const secondsPerYear = 365 * 24 * 3600

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Offline risk calculations for power-perpetual vaults",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLiquidationPriceCmd(),
		newImpliedVolCmd(),
		newPositionBalancesCmd(),
		newLiquidityCmd(),
	)
	return root
}

func newLiquidationPriceCmd() *cobra.Command {
	var collateral, short, nf, ratio string
	var indexScale int64

	cmd := &cobra.Command{
		Use:   "liquidation-price",
		Short: "ETH price at which a vault reaches its collateral ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			wads, err := parseWads(map[string]string{
				"collateral": collateral,
				"short":      short,
				"nf":         nf,
				"ratio":      ratio,
			})
			if err != nil {
				return err
			}
			if indexScale <= 0 {
				return fmt.Errorf("--index-scale must be positive")
			}

			in := risk.NewVaultInput(wads["collateral"], wads["short"], wads["nf"], wads["ratio"], big.NewInt(indexScale))
			price, ok := risk.LiquidationPrice(in)
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no liquidation price (no debt or solver did not converge)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "liquidation price: %s\n", decimal.NewFromFloat(price).StringFixed(6))
			return nil
		},
	}
	cmd.Flags().StringVar(&collateral, "collateral", "0", "collateral in ETH")
	cmd.Flags().StringVar(&short, "short", "0", "normalized debt in wPowerPerp")
	cmd.Flags().StringVar(&nf, "nf", "1", "normalization factor")
	cmd.Flags().StringVar(&ratio, "ratio", "1.5", "required collateral ratio")
	cmd.Flags().Int64Var(&indexScale, "index-scale", 10_000, "index scale")
	return cmd
}

func newImpliedVolCmd() *cobra.Command {
	var observed, spot, nf float64
	var fundingPeriod, indexScale int64

	cmd := &cobra.Command{
		Use:   "implied-vol",
		Short: "Volatility implied by an observed wPowerPerp price",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fundingPeriod <= 0 {
				return fmt.Errorf("--funding-period must be positive")
			}
			tau := float64(fundingPeriod) / secondsPerYear
			sigma, ok := risk.ImpliedVolatility(observed, spot, nf, tau, float64(indexScale))
			if !ok {
				return fmt.Errorf("no volatility in [%.0f%%, %.0f%%] reproduces %v",
					risk.MinVolatility*100, risk.MaxVolatility*100, observed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "implied volatility: %s%%\n", decimal.NewFromFloat(sigma*100).StringFixed(2))
			return nil
		},
	}
	cmd.Flags().Float64Var(&observed, "observed", 0, "observed wPowerPerp price in ETH")
	cmd.Flags().Float64Var(&spot, "spot", 0, "ETH price in quote")
	cmd.Flags().Float64Var(&nf, "nf", 1, "normalization factor")
	cmd.Flags().Int64Var(&fundingPeriod, "funding-period", 420*3600, "funding period in seconds")
	cmd.Flags().Int64Var(&indexScale, "index-scale", 10_000, "index scale")
	return cmd
}

func newPositionBalancesCmd() *cobra.Command {
	var liquidity string
	var tickLower, tickUpper, tick int32
	var baseIsToken0 bool

	cmd := &cobra.Command{
		Use:   "position-balances",
		Short: "Token amounts an LP position yields at a tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			liq, err := uint256.FromDecimal(liquidity)
			if err != nil {
				return fmt.Errorf("--liquidity: %w", err)
			}
			pos := vaultlib.Position{
				TickLower:   tickLower,
				TickUpper:   tickUpper,
				Liquidity:   liq,
				TokensOwed0: new(uint256.Int),
				TokensOwed1: new(uint256.Int),
			}
			base, quote, err := vaultlib.PositionBalances(pos, tick, baseIsToken0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "base:  %s\n", config.FormatWad(base))
			fmt.Fprintf(out, "quote: %s\n", config.FormatWad(quote))
			return nil
		},
	}
	cmd.Flags().StringVar(&liquidity, "liquidity", "0", "position liquidity")
	cmd.Flags().Int32Var(&tickLower, "tick-lower", 0, "lower tick")
	cmd.Flags().Int32Var(&tickUpper, "tick-upper", 0, "upper tick")
	cmd.Flags().Int32Var(&tick, "tick", 0, "current pool tick")
	cmd.Flags().BoolVar(&baseIsToken0, "base-is-token0", true, "report token0 as base")
	return cmd
}

func newLiquidityCmd() *cobra.Command {
	var amount0, amount1 string
	var tickLower, tickUpper, tick int32

	cmd := &cobra.Command{
		Use:   "liquidity",
		Short: "Liquidity minted by depositing two amounts over a tick range",
		RunE: func(cmd *cobra.Command, args []string) error {
			wads, err := parseWads(map[string]string{"amount0": amount0, "amount1": amount1})
			if err != nil {
				return err
			}
			sqrtPrice, err := fpmath.GetSqrtRatioAtTick(tick)
			if err != nil {
				return err
			}
			liq, err := vaultlib.Liquidity(sqrtPrice, tickLower, tickUpper, wads["amount0"], wads["amount1"])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "liquidity: %s\n", liq.Dec())
			return nil
		},
	}
	cmd.Flags().StringVar(&amount0, "amount0", "0", "token0 amount")
	cmd.Flags().StringVar(&amount1, "amount1", "0", "token1 amount")
	cmd.Flags().Int32Var(&tickLower, "tick-lower", 0, "lower tick")
	cmd.Flags().Int32Var(&tickUpper, "tick-upper", 0, "upper tick")
	cmd.Flags().Int32Var(&tick, "tick", 0, "current pool tick")
	return cmd
}

func parseWads(flags map[string]string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(flags))
	for name, raw := range flags {
		v, err := config.ParseWad(raw)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		if v.Sign() < 0 {
			return nil, fmt.Errorf("--%s must not be negative", name)
		}
		out[name] = v
	}
	return out, nil
}
