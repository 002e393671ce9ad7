package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"

	"github.com/atmx/curve-engine/internal/curve"
	"github.com/atmx/curve-engine/internal/model"
)

func seedPool() model.Pool {
	return model.Pool{VirtualReserve: 30_000_000_000, VirtualAsset: 1_000_000_000_000_000, Active: true}
}

func TestApplyBuy_Unclamped(t *testing.T) {
	p := seedPool()
	fill, next, err := applyBuy(p, 1_000_000, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.AmountOut != 33_332_222_260 || fill.Clamped || fill.Deactivated {
		t.Errorf("unexpected fill: %+v", fill)
	}
	if next.VirtualReserve != 30_001_000_000 ||
		next.VirtualAsset != 1_000_000_000_000_000-33_332_222_260 ||
		next.UnitsSold != 33_332_222_260 || !next.Active {
		t.Errorf("unexpected pool: %+v", next)
	}
	if p.VirtualReserve != 30_000_000_000 {
		t.Error("input pool must not be modified")
	}
}

func TestApplyBuy_ClampOneBelowThreshold(t *testing.T) {
	p := seedPool()
	p.UnitsSold = curve.SaleThreshold - 1

	for _, reserveIn := range []uint64{1_000_000, 1_000_000_000, 50_000_000_000} {
		fill, next, err := applyBuy(p, reserveIn, DefaultPolicy())
		if err != nil {
			t.Fatalf("reserveIn=%d: unexpected error: %v", reserveIn, err)
		}
		if fill.AmountOut != 1 {
			t.Errorf("reserveIn=%d: expected exactly 1 unit, got %d", reserveIn, fill.AmountOut)
		}
		if next.Active || !fill.Deactivated || !fill.Clamped {
			t.Errorf("reserveIn=%d: pool should deactivate", reserveIn)
		}
		if next.UnitsSold != curve.SaleThreshold {
			t.Errorf("reserveIn=%d: expected units_sold at threshold, got %d", reserveIn, next.UnitsSold)
		}
		if fill.Charged != reserveIn || fill.Refund != 0 {
			t.Errorf("reserveIn=%d: retain policy must keep the full input: %+v", reserveIn, fill)
		}
	}
}

func TestApplyBuy_ExactlyAtThresholdStaysActive(t *testing.T) {
	p := seedPool()
	out, _ := curve.QuoteAssetForReserve(p, 1_000_000)
	p.UnitsSold = curve.SaleThreshold - out

	fill, next, err := applyBuy(p, 1_000_000, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Clamped || !next.Active {
		t.Errorf("reaching the threshold exactly must not deactivate: %+v", fill)
	}

	// The next buy has no room left.
	fill, next, err = applyBuy(next, 1, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.AmountOut != 0 || next.Active {
		t.Errorf("expected an empty clamped fill, got %+v", fill)
	}
}

func TestApplyBuy_SellsPushedCounterPastThreshold(t *testing.T) {
	p := seedPool()
	p.UnitsSold = curve.SaleThreshold + 5

	fill, next, err := applyBuy(p, 1_000_000, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.AmountOut != 0 || next.Active {
		t.Errorf("expected empty fill and deactivation, got %+v", fill)
	}
	if next.UnitsSold != p.UnitsSold {
		t.Errorf("units_sold should not move, got %d", next.UnitsSold)
	}
}

func TestApplyBuy_RefundPolicy(t *testing.T) {
	policy := Policy{Boundary: BoundaryRefund, SellAccounting: SellRestoring}

	p := seedPool()
	p.UnitsSold = curve.SaleThreshold - 1
	fill, next, err := applyBuy(p, 1_000_000, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Charged != 1 || fill.Refund != 999_999 {
		t.Errorf("expected charge 1 and refund 999999, got %+v", fill)
	}
	if next.VirtualReserve != p.VirtualReserve+1 {
		t.Errorf("pool must only book the charged reserve, got %d", next.VirtualReserve)
	}

	// Crossing from zero.
	fill, _, err = applyBuy(seedPool(), 800_000_000, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.AmountOut != curve.SaleThreshold || fill.Charged != 24_019_216 || fill.Refund != 775_980_784 {
		t.Errorf("unexpected refunded fill: %+v", fill)
	}

	// Nothing left to sell: everything comes back.
	p.UnitsSold = curve.SaleThreshold
	fill, _, err = applyBuy(p, 1_000, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Charged != 0 || fill.Refund != 1_000 {
		t.Errorf("expected full refund, got %+v", fill)
	}
}

func TestApplyBuy_Errors(t *testing.T) {
	inactive := seedPool()
	inactive.Active = false
	if _, _, err := applyBuy(inactive, 1, DefaultPolicy()); !errors.Is(err, ErrPoolInactive) {
		t.Errorf("expected ErrPoolInactive, got %v", err)
	}
	if _, _, err := applyBuy(seedPool(), 0, DefaultPolicy()); !errors.Is(err, curve.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, _, err := applyBuy(seedPool(), math.MaxUint64, DefaultPolicy()); !errors.Is(err, curve.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
}

func TestApplySell_Restoring(t *testing.T) {
	p := model.Pool{VirtualReserve: 30_005_000_000, VirtualAsset: 999_833_361_106_482, UnitsSold: 166_638_893_518, Active: true}

	fill, next, err := applySell(p, 83_319_446_759, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.AmountOut != 2_500_208 {
		t.Errorf("expected 2500208, got %d", fill.AmountOut)
	}
	if next.VirtualReserve != 30_002_499_792 || next.VirtualAsset != 999_916_680_553_241 {
		t.Errorf("unexpected pool: %+v", next)
	}
	if next.UnitsSold != 249_958_340_277 {
		t.Errorf("sells add to units_sold, got %d", next.UnitsSold)
	}
	if !next.Active || fill.Deactivated {
		t.Error("sells never deactivate")
	}
}

func TestApplySell_Legacy(t *testing.T) {
	policy := Policy{Boundary: BoundaryRetain, SellAccounting: SellLegacy}
	p := model.Pool{VirtualReserve: 30_001_000_000, VirtualAsset: 999_966_667_777_740, UnitsSold: 33_332_222_260, Active: true}

	fill, next, err := applySell(p, 33_332_222_260, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.AmountOut != 1_000_000 {
		t.Errorf("expected 1000000, got %d", fill.AmountOut)
	}
	if next.VirtualAsset != 999_933_335_555_480 || next.VirtualReserve != 30_002_000_000 {
		t.Errorf("unexpected legacy pool: %+v", next)
	}

	small := model.Pool{VirtualReserve: 30, VirtualAsset: 10, Active: true}
	if _, _, err := applySell(small, 11, policy); !errors.Is(err, curve.ErrInsufficientAssetBalance) {
		t.Errorf("expected ErrInsufficientAssetBalance, got %v", err)
	}
}

func TestApplySell_Errors(t *testing.T) {
	inactive := seedPool()
	inactive.Active = false
	if _, _, err := applySell(inactive, 1, DefaultPolicy()); !errors.Is(err, ErrPoolInactive) {
		t.Errorf("expected ErrPoolInactive, got %v", err)
	}
	if _, _, err := applySell(seedPool(), 0, DefaultPolicy()); !errors.Is(err, curve.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

// Buys never raise k; sells round in the pool's favour by less than one
// reserve unit per surviving asset unit.
func TestTransitions_ProductDrift(t *testing.T) {
	p := seedPool()
	steps := []struct {
		side   model.Side
		amount uint64
	}{
		{model.SideBuy, 5_000_000},
		{model.SideSell, 83_319_446_759},
		{model.SideBuy, 12_345_678},
		{model.SideBuy, 1},
		{model.SideSell, 1_000_000},
		{model.SideSell, 7},
		{model.SideBuy, 999_999},
	}
	prevSold := p.UnitsSold
	for i, st := range steps {
		before := curve.Product(p)
		var next model.Pool
		var err error
		if st.side == model.SideBuy {
			_, next, err = applyBuy(p, st.amount, DefaultPolicy())
		} else {
			_, next, err = applySell(p, st.amount, DefaultPolicy())
		}
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		after := curve.Product(next)
		if st.side == model.SideBuy {
			if after.Gt(before) {
				t.Errorf("step %d: buy raised k from %s to %s", i, before, after)
			}
		} else {
			bound := new(uint256.Int).Add(before, uint256.NewInt(next.VirtualAsset))
			if after.Lt(before) || !after.Lt(bound) {
				t.Errorf("step %d: sell moved k from %s to %s", i, before, after)
			}
		}
		if next.UnitsSold < prevSold {
			t.Errorf("step %d: units_sold decreased", i)
		}
		prevSold = next.UnitsSold
		p = next
	}
}
