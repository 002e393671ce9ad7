package engine

import (
	smath "github.com/ava-labs/avalanchego/utils/math"

	"github.com/atmx/curve-engine/internal/curve"
	"github.com/atmx/curve-engine/internal/model"
)

// Fill is the outcome of pricing one trade against a pool snapshot.
type Fill struct {
	Side model.Side `json:"side"`

	// AmountIn is what the trader offered; Charged is what is actually
	// taken. They differ only for a refunded boundary buy.
	AmountIn uint64 `json:"amount_in,string"`
	Charged  uint64 `json:"charged,string"`
	Refund   uint64 `json:"refund,string"`

	AmountOut uint64 `json:"amount_out,string"`

	// Clamped is set when the threshold cut AmountOut below the quote.
	Clamped     bool `json:"clamped"`
	Deactivated bool `json:"deactivated"`
}

// applyBuy prices a buy and returns the fill with the post-trade pool.
// The input pool is never modified.
func applyBuy(p model.Pool, reserveIn uint64, policy Policy) (Fill, model.Pool, error) {
	if !p.Active {
		return Fill{}, p, ErrPoolInactive
	}
	out, err := curve.QuoteAssetForReserve(p, reserveIn)
	if err != nil {
		return Fill{}, p, err
	}
	fill := Fill{Side: model.SideBuy, AmountIn: reserveIn, Charged: reserveIn, AmountOut: out}

	sold, err := smath.Add64(p.UnitsSold, out)
	if err != nil {
		return Fill{}, p, curve.ErrArithmeticOverflow
	}
	if sold > curve.SaleThreshold {
		// Sells also count toward units_sold, so the counter can already
		// sit at or past the threshold; the buy then delivers nothing.
		fill.AmountOut = 0
		if p.UnitsSold < curve.SaleThreshold {
			fill.AmountOut = curve.SaleThreshold - p.UnitsSold
		}
		fill.Clamped = true
		fill.Deactivated = true

		if policy.Boundary == BoundaryRefund {
			charged := uint64(0)
			if fill.AmountOut > 0 {
				if charged, err = curve.ReserveForAsset(p, fill.AmountOut); err != nil {
					return Fill{}, p, err
				}
			}
			if charged > reserveIn {
				charged = reserveIn
			}
			fill.Charged = charged
			fill.Refund = reserveIn - charged
		}
	}

	next := p
	if next.VirtualAsset, err = smath.Sub(p.VirtualAsset, fill.AmountOut); err != nil {
		return Fill{}, p, curve.ErrInsufficientAssetBalance
	}
	if next.VirtualReserve, err = smath.Add64(p.VirtualReserve, fill.Charged); err != nil {
		return Fill{}, p, curve.ErrArithmeticOverflow
	}
	if next.UnitsSold, err = smath.Add64(p.UnitsSold, fill.AmountOut); err != nil {
		return Fill{}, p, curve.ErrArithmeticOverflow
	}
	next.Active = !fill.Deactivated
	return fill, next, nil
}

// applySell prices a sell and returns the fill with the post-trade pool.
// Sells never clamp or deactivate.
func applySell(p model.Pool, assetIn uint64, policy Policy) (Fill, model.Pool, error) {
	if !p.Active {
		return Fill{}, p, ErrPoolInactive
	}
	out, err := curve.QuoteReserveForAsset(p, assetIn)
	if err != nil {
		return Fill{}, p, err
	}
	fill := Fill{Side: model.SideSell, AmountIn: assetIn, Charged: assetIn, AmountOut: out}

	next := p
	switch policy.SellAccounting {
	case SellLegacy:
		if next.VirtualAsset, err = smath.Sub(p.VirtualAsset, assetIn); err != nil {
			return Fill{}, p, curve.ErrInsufficientAssetBalance
		}
		if next.VirtualReserve, err = smath.Add64(p.VirtualReserve, out); err != nil {
			return Fill{}, p, curve.ErrArithmeticOverflow
		}
	default:
		if next.VirtualAsset, err = smath.Add64(p.VirtualAsset, assetIn); err != nil {
			return Fill{}, p, curve.ErrArithmeticOverflow
		}
		if next.VirtualReserve, err = smath.Sub(p.VirtualReserve, out); err != nil {
			return Fill{}, p, curve.ErrInsufficientReserveBalance
		}
	}
	// units_sold counts gross volume on both sides.
	if next.UnitsSold, err = smath.Add64(p.UnitsSold, assetIn); err != nil {
		return Fill{}, p, curve.ErrArithmeticOverflow
	}
	return fill, next, nil
}
