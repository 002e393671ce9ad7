// Package curve implements the constant-product bonding curve with virtual
// liquidity that prices every pool.
//
// For a pool holding virtual reserve R and virtual asset A the curve keeps
// k = R * A constant:
//
//	buy:  asset_out   = A - floor(k / (R + reserve_in))
//	sell: reserve_out = R - ceil(k / (A + asset_in))
//
// The product k needs up to 128 bits, so it is computed on uint256. The
// buy leg floors the surviving asset supply and the sell leg rounds the
// surviving reserve up; a buy followed by selling the same units never
// returns more reserve than was paid.
//
// All functions are pure: they read a pool snapshot and never mutate it.
package curve

import (
	"errors"
	"math/big"

	smath "github.com/ava-labs/avalanchego/utils/math"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/curve-engine/internal/model"
)

const (
	// AssetDecimals is the number of fractional digits of launched assets.
	AssetDecimals = 6

	// SaleThreshold is the number of minimal asset units the curve sells
	// before the pool deactivates (800M whole units).
	SaleThreshold uint64 = 800_000_000_000

	// DefaultTotalSupply is minted into every pool at launch (1B whole units).
	DefaultTotalSupply uint64 = 1_000_000_000_000_000

	// PriceScale is the number of decimal places for display prices.
	PriceScale int32 = 12
)

var (
	// ErrInvalidAmount is returned for zero trade amounts.
	ErrInvalidAmount = errors.New("curve: amount must be positive")

	// ErrArithmeticOverflow is returned when a checked addition or
	// multiplication leaves the u64 range.
	ErrArithmeticOverflow = errors.New("curve: arithmetic overflow")

	// ErrCalculation is returned when the formula yields an impossible
	// result, e.g. a surviving supply larger than the current one.
	ErrCalculation = errors.New("curve: calculation error")

	// ErrInsufficientAssetBalance is returned when an asset-side
	// subtraction would underflow.
	ErrInsufficientAssetBalance = errors.New("curve: insufficient asset balance")

	// ErrInsufficientReserveBalance is returned when a reserve-side
	// subtraction would underflow.
	ErrInsufficientReserveBalance = errors.New("curve: insufficient reserve balance")
)

// Product returns k = VirtualReserve * VirtualAsset.
func Product(p model.Pool) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(p.VirtualReserve), uint256.NewInt(p.VirtualAsset))
}

// QuoteAssetForReserve returns the asset units bought by reserveIn.
func QuoteAssetForReserve(p model.Pool, reserveIn uint64) (uint64, error) {
	if reserveIn == 0 {
		return 0, ErrInvalidAmount
	}
	denom, err := smath.Add64(p.VirtualReserve, reserveIn)
	if err != nil {
		return 0, ErrArithmeticOverflow
	}
	newSupply := new(uint256.Int).Div(Product(p), uint256.NewInt(denom))
	if !newSupply.IsUint64() || newSupply.Uint64() > p.VirtualAsset {
		return 0, ErrCalculation
	}
	return p.VirtualAsset - newSupply.Uint64(), nil
}

// QuoteReserveForAsset returns the reserve paid out for assetIn.
func QuoteReserveForAsset(p model.Pool, assetIn uint64) (uint64, error) {
	if assetIn == 0 {
		return 0, ErrInvalidAmount
	}
	denom, err := smath.Add64(p.VirtualAsset, assetIn)
	if err != nil {
		return 0, ErrArithmeticOverflow
	}
	newSupply := ceilDiv(Product(p), uint256.NewInt(denom))
	if !newSupply.IsUint64() || newSupply.Uint64() > p.VirtualReserve {
		return 0, ErrCalculation
	}
	return p.VirtualReserve - newSupply.Uint64(), nil
}

// ReserveForAsset returns the smallest reserve input whose buy quote
// delivers at least assetOut units. assetOut must be below VirtualAsset.
func ReserveForAsset(p model.Pool, assetOut uint64) (uint64, error) {
	if assetOut == 0 {
		return 0, ErrInvalidAmount
	}
	if assetOut >= p.VirtualAsset {
		return 0, ErrInsufficientAssetBalance
	}
	required := ceilDiv(Product(p), uint256.NewInt(p.VirtualAsset-assetOut))
	if !required.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	// After rounding drift k can sit below R*A; a single unit then already
	// buys more than assetOut.
	if required.Uint64() <= p.VirtualReserve {
		return 1, nil
	}
	return required.Uint64() - p.VirtualReserve, nil
}

// SpotPrice returns the marginal price of one whole asset unit in minimal
// reserve units: R / A * 10^AssetDecimals.
func SpotPrice(p model.Pool) decimal.Decimal {
	if p.VirtualAsset == 0 {
		return decimal.Zero
	}
	r := units(p.VirtualReserve).Shift(AssetDecimals)
	return r.DivRound(units(p.VirtualAsset), PriceScale)
}

// Progress returns the sold fraction of SaleThreshold as a percentage.
func Progress(p model.Pool) decimal.Decimal {
	sold := units(p.UnitsSold)
	pct := sold.Mul(decimal.NewFromInt(100)).DivRound(units(SaleThreshold), 4)
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return pct
}

func units(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func ceilDiv(x, y *uint256.Int) *uint256.Int {
	q, rem := new(uint256.Int).DivMod(x, y, new(uint256.Int))
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}
