// Package curve holds the pure constant-product pricing functions. Nothing in
// here mutates state; the pool state machine applies the quotes this package
// produces.
package curve

import (
	"ammcore/internal/amm"
	fpmath "ammcore/internal/math"
)

// MinimumLiquidity is the absolute floor on the LP shares minted by a first
// deposit. A near-zero first mint would let later rounding distort the price
// ratio far beyond the one-unit tolerance the engine guarantees, so degenerate
// first deposits are rejected outright.
const MinimumLiquidity uint64 = 1_000

const bpsDenominator uint64 = 10_000

// SwapQuote computes the output amount for a swap against reserves
// (reserveIn, reserveOut) with the fee charged on the input:
//
//	effectiveIn = floor(amountIn * (10_000 - feeBps) / 10_000)
//	amountOut   = floor(reserveOut * effectiveIn / (reserveIn + effectiveIn))
//
// Floor rounding on the output favors the pool, so the product invariant can
// only grow or hold across the swap.
func SwapQuote(reserveIn, reserveOut, amountIn uint64, feeBps uint16) (uint64, error) {
	if amountIn == 0 {
		return 0, amm.ErrInvalidAmount.Wrap("swap input is zero")
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, amm.ErrInsufficientLiquidity.Wrapf("reserves (%d, %d)", reserveIn, reserveOut)
	}
	if feeBps >= uint16(bpsDenominator) {
		return 0, amm.ErrInvalidFee.Wrapf("fee %d bps", feeBps)
	}

	effectiveIn, err := fpmath.MulDiv(amountIn, bpsDenominator-uint64(feeBps), bpsDenominator)
	if err != nil {
		return 0, err
	}
	if effectiveIn == 0 {
		return 0, amm.ErrInvalidAmount.Wrapf("input %d is zero after %d bps fee", amountIn, feeBps)
	}

	denom, err := fpmath.CheckedAdd(reserveIn, effectiveIn)
	if err != nil {
		return 0, err
	}

	amountOut, err := fpmath.MulDiv(reserveOut, effectiveIn, denom)
	if err != nil {
		return 0, err
	}
	if amountOut == 0 {
		return 0, amm.ErrInsufficientLiquidity.Wrapf("input %d buys zero output", amountIn)
	}
	return amountOut, nil
}

// InitialDepositQuote computes the LP shares minted by the first deposit into
// an empty pool: the geometric mean of the two amounts (Uniswap V2 pattern),
// with an absolute floor so a dust-sized first deposit cannot seed the pool.
func InitialDepositQuote(amountX, amountY uint64) (uint64, error) {
	if amountX == 0 || amountY == 0 {
		return 0, amm.ErrInvalidAmount.Wrap("initial deposit amounts must be positive")
	}

	lpMinted := fpmath.SqrtProduct(amountX, amountY)
	if lpMinted < MinimumLiquidity {
		return 0, amm.ErrInvalidAmount.Wrapf("initial mint %d below minimum liquidity %d", lpMinted, MinimumLiquidity)
	}
	return lpMinted, nil
}

// ProportionalDepositQuote computes the token amounts a depositor owes for a
// target LP mint against a non-empty pool. Rounding is UP, the opposite of
// every payout path, so the pool never under-collects relative to the shares
// it mints.
func ProportionalDepositQuote(reserveX, reserveY, lpSupply, desiredLP uint64) (amountX, amountY uint64, err error) {
	if desiredLP == 0 {
		return 0, 0, amm.ErrInvalidAmount.Wrap("requested LP amount is zero")
	}
	if lpSupply == 0 {
		return 0, 0, amm.ErrInsufficientLiquidity.Wrap("pool has no outstanding shares")
	}

	amountX, err = fpmath.MulDivCeil(desiredLP, reserveX, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	amountY, err = fpmath.MulDivCeil(desiredLP, reserveY, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	return amountX, amountY, nil
}

// WithdrawQuote computes the token amounts paid out for burning lpBurned
// shares. Rounding is DOWN so the pool never pays more than the proportional
// share.
func WithdrawQuote(reserveX, reserveY, lpSupply, lpBurned uint64) (amountX, amountY uint64, err error) {
	if lpBurned == 0 {
		return 0, 0, amm.ErrInvalidAmount.Wrap("burn amount is zero")
	}
	if lpBurned > lpSupply {
		return 0, 0, amm.ErrInvalidAmount.Wrapf("burn %d exceeds supply %d", lpBurned, lpSupply)
	}

	amountX, err = fpmath.MulDiv(lpBurned, reserveX, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	amountY, err = fpmath.MulDiv(lpBurned, reserveY, lpSupply)
	if err != nil {
		return 0, 0, err
	}
	return amountX, amountY, nil
}
