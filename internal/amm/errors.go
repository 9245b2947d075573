package amm

import (
	"cosmossdk.io/errors"
)

// Codespace for all engine errors.
const Codespace = "amm"

// Sentinel errors for the invariant engine.
//
// Recoverability: every error except ErrInvariantViolation and ErrArithmetic
// is a per-operation caller error. The failing operation leaves pool state
// unchanged and the caller may retry with corrected input. ErrArithmetic marks
// an overflow or division-by-zero fault; ErrInvariantViolation marks a
// post-condition failure. Both abort the operation with state untouched.
var (
	ErrInvalidAmount         = errors.Register(Codespace, 1, "invalid amount")
	ErrInvalidFee            = errors.Register(Codespace, 2, "fee out of range")
	ErrSlippageExceeded      = errors.Register(Codespace, 3, "slippage bound exceeded")
	ErrInsufficientLiquidity = errors.Register(Codespace, 4, "insufficient liquidity in pool")
	ErrPoolLocked            = errors.Register(Codespace, 5, "pool is locked")
	ErrUnauthorized          = errors.Register(Codespace, 6, "caller is not the pool authority")
	ErrNoAuthority           = errors.Register(Codespace, 7, "pool has no authority configured")
	ErrArithmetic            = errors.Register(Codespace, 8, "arithmetic overflow or division by zero")
	ErrInvariantViolation    = errors.Register(Codespace, 9, "pool invariant violated")
	ErrAlreadyInitialized    = errors.Register(Codespace, 10, "pool already initialized")
	ErrPoolNotFound          = errors.Register(Codespace, 11, "pool not found")
	ErrSameAsset             = errors.Register(Codespace, 12, "pool assets must differ")
	ErrNotActive             = errors.Register(Codespace, 13, "pool is not active")
)
