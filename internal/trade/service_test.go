package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/curve-engine/internal/books"
	"github.com/atmx/curve-engine/internal/engine"
	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/model"
	"github.com/atmx/curve-engine/internal/store"
	"github.com/atmx/curve-engine/internal/trade"
)

const (
	seedReserve = uint64(30_000_000_000)
	seedAsset   = uint64(1_000_000_000_000_000)
)

var (
	owner  = model.DeriveAddress([]byte("trade-test"), []byte("owner"))
	trader = model.DeriveAddress([]byte("trade-test"), []byte("trader"))
	asset  = model.DeriveAddress([]byte("trade-test"), []byte("asset"))
)

// newTestEnv creates a test Service with in-memory store and ledger behind
// a chi router. The faucet is enabled.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	lg := ledger.NewMemory()
	eng := engine.New(books.NewSplit(ms, lg, lg), ms, nil, engine.DefaultPolicy())
	svc := trade.NewService(eng, ms, lg, lg)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)
	return ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

// seedProtocol initializes the protocol and launches one pool.
func seedProtocol(t *testing.T, router chi.Router) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/protocol", trade.InitProtocolRequest{
		Actor:                 owner,
		TotalSupplyToMint:     seedAsset,
		InitialVirtualReserve: seedReserve,
		InitialVirtualAsset:   seedAsset,
	})
	expectStatus(t, w, http.StatusCreated)

	a := asset
	w = do(t, router, "POST", "/api/v1/pools", trade.LaunchRequest{
		Actor:  owner,
		Asset:  &a,
		Name:   "Test Token",
		Symbol: "TEST",
		URI:    "https://example.com/test.json",
	})
	expectStatus(t, w, http.StatusCreated)
}

func airdrop(t *testing.T, router chi.Router, to model.Address, amount uint64) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/accounts/"+to.String()+"/airdrop", trade.AirdropRequest{Amount: amount})
	expectStatus(t, w, http.StatusOK)
}

func doTrade(t *testing.T, router chi.Router, req trade.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/trade", req)
}

func balanceOf(t *testing.T, router chi.Router, who model.Address, what string) uint64 {
	t.Helper()
	w := do(t, router, "GET", "/api/v1/accounts/"+who.String()+"/balances/"+what, nil)
	expectStatus(t, w, http.StatusOK)
	var resp trade.BalanceResponse
	decode(t, w, &resp)
	return resp.Balance
}

// --- Protocol and launch ---

func TestProtocol_InitOnce(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/protocol", nil)
	expectStatus(t, w, http.StatusNotFound)

	w = do(t, router, "POST", "/api/v1/protocol", trade.InitProtocolRequest{
		Actor:                 owner,
		InitialVirtualReserve: seedReserve,
	})
	expectStatus(t, w, http.StatusCreated)

	w = do(t, router, "GET", "/api/v1/protocol", nil)
	expectStatus(t, w, http.StatusOK)
	var cfg model.IssuerConfig
	decode(t, w, &cfg)
	if cfg.Owner != owner || cfg.SaleTarget != owner {
		t.Errorf("expected owner and sale target %s, got %+v", owner, cfg)
	}
	if cfg.TotalSupplyToMint != seedAsset || cfg.InitialVirtualAsset != seedAsset {
		t.Errorf("expected default supply, got %+v", cfg)
	}

	w = do(t, router, "POST", "/api/v1/protocol", trade.InitProtocolRequest{
		Actor:                 trader,
		InitialVirtualReserve: seedReserve,
	})
	expectStatus(t, w, http.StatusConflict)
}

func TestProtocol_InvalidConfig(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/protocol", trade.InitProtocolRequest{Actor: owner})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestLaunchPool(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)

	w := do(t, router, "GET", "/api/v1/pools/"+asset.String(), nil)
	expectStatus(t, w, http.StatusOK)
	var pool trade.PoolView
	decode(t, w, &pool)
	if !pool.Active || pool.UnitsSold != 0 || pool.Symbol != "TEST" {
		t.Errorf("unexpected pool: %+v", pool)
	}
	if pool.VirtualReserve != seedReserve || pool.VirtualAsset != seedAsset {
		t.Errorf("expected seeded reserves, got %d/%d", pool.VirtualReserve, pool.VirtualAsset)
	}
	if !pool.Price.IsPositive() || !pool.Progress.IsZero() {
		t.Errorf("unexpected price %s progress %s", pool.Price, pool.Progress)
	}

	// Pool custody holds the minted supply.
	if got := balanceOf(t, router, model.PoolAddress(asset), asset.String()); got != seedAsset {
		t.Errorf("expected pool custody %d, got %d", seedAsset, got)
	}
}

func TestLaunchPool_Errors(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/pools", trade.LaunchRequest{
		Actor: owner, Name: "Early", Symbol: "EARLY", URI: "https://example.com/e.json",
	})
	expectStatus(t, w, http.StatusNotFound)

	seedProtocol(t, router)

	a := asset
	w = do(t, router, "POST", "/api/v1/pools", trade.LaunchRequest{
		Actor: owner, Asset: &a, Name: "Again", Symbol: "AGAIN", URI: "https://example.com/a.json",
	})
	expectStatus(t, w, http.StatusConflict)

	w = do(t, router, "POST", "/api/v1/pools", trade.LaunchRequest{
		Actor: owner, Name: "Lower", Symbol: "lower", URI: "https://example.com/l.json",
	})
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", "/api/v1/pools", trade.LaunchRequest{
		Actor: owner, Name: "Bad URI", Symbol: "BAD", URI: "ftp://example.com/b.json",
	})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestListPools_ActiveFilter(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)

	w := do(t, router, "GET", "/api/v1/pools?active=true", nil)
	expectStatus(t, w, http.StatusOK)
	var pools []trade.PoolView
	decode(t, w, &pools)
	if len(pools) != 1 {
		t.Fatalf("expected 1 active pool, got %d", len(pools))
	}

	w = do(t, router, "GET", "/api/v1/pools?active=false", nil)
	expectStatus(t, w, http.StatusOK)
	pools = nil
	decode(t, w, &pools)
	if len(pools) != 0 {
		t.Errorf("expected no inactive pools, got %d", len(pools))
	}

	w = do(t, router, "GET", "/api/v1/pools?active=sometimes", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

// --- Trade execution tests ---

func TestExecuteTrade_Buy(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)
	airdrop(t, router, trader, 1_000_000)

	w := doTrade(t, router, trade.TradeRequest{
		Actor:  trader,
		Asset:  asset,
		Side:   model.SideBuy,
		Amount: 1_000_000,
	})
	expectStatus(t, w, http.StatusOK)

	var resp trade.TradeResponse
	decode(t, w, &resp)
	if resp.Record.AssetAmount != 33_332_222_260 {
		t.Errorf("expected 33332222260 units out, got %d", resp.Record.AssetAmount)
	}
	if resp.Pool.VirtualReserve != seedReserve+1_000_000 || resp.Pool.UnitsSold != 33_332_222_260 {
		t.Errorf("unexpected pool after buy: %+v", resp.Pool.Pool)
	}
	if !resp.Pool.Progress.IsPositive() {
		t.Errorf("expected progress after buy, got %s", resp.Pool.Progress)
	}

	if got := balanceOf(t, router, trader, asset.String()); got != 33_332_222_260 {
		t.Errorf("expected trader asset balance 33332222260, got %d", got)
	}
	if got := balanceOf(t, router, trader, "reserve"); got != 0 {
		t.Errorf("expected trader reserve spent, got %d", got)
	}
}

func TestExecuteTrade_RoundTrip(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)
	airdrop(t, router, trader, 1_000_000)

	w := doTrade(t, router, trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideBuy, Amount: 1_000_000})
	expectStatus(t, w, http.StatusOK)
	var buy trade.TradeResponse
	decode(t, w, &buy)

	w = doTrade(t, router, trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideSell, Amount: buy.Record.AssetAmount})
	expectStatus(t, w, http.StatusOK)
	var sell trade.TradeResponse
	decode(t, w, &sell)

	// Selling everything back never returns more than was paid.
	if sell.Record.ReserveAmount == 0 || sell.Record.ReserveAmount > 1_000_000 {
		t.Errorf("expected payout in (0, 1000000], got %d", sell.Record.ReserveAmount)
	}
	if got := balanceOf(t, router, trader, "reserve"); got != sell.Record.ReserveAmount {
		t.Errorf("expected reserve balance %d, got %d", sell.Record.ReserveAmount, got)
	}
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)
	airdrop(t, router, trader, 10)

	w := doTrade(t, router, trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideBuy, Amount: 1_000_000})
	expectStatus(t, w, http.StatusUnprocessableEntity)
}

func TestExecuteTrade_InvalidRequests(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)

	tests := []struct {
		name   string
		req    trade.TradeRequest
		status int
	}{
		{"zero amount", trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideBuy}, http.StatusBadRequest},
		{"bad side", trade.TradeRequest{Actor: trader, Asset: asset, Side: "HOLD", Amount: 1}, http.StatusBadRequest},
		{"withdraw side", trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideWithdraw, Amount: 1}, http.StatusBadRequest},
		{"no actor", trade.TradeRequest{Asset: asset, Side: model.SideBuy, Amount: 1}, http.StatusBadRequest},
		{"unknown pool", trade.TradeRequest{Actor: trader, Asset: trader, Side: model.SideBuy, Amount: 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doTrade(t, router, tt.req)
			expectStatus(t, w, tt.status)
		})
	}
}

func TestExecuteTrade_MalformedBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/trade", bytes.NewReader([]byte(`{"amount": 5}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest)
}

// --- Quotes and history ---

func TestGetQuote(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)

	q := url.Values{"side": {"buy"}, "amount": {"1000000"}}
	w := do(t, router, "GET", "/api/v1/pools/"+asset.String()+"/quote?"+q.Encode(), nil)
	expectStatus(t, w, http.StatusOK)

	var quote engine.Quote
	decode(t, w, &quote)
	if quote.AmountOut != 33_332_222_260 || quote.Clamped {
		t.Errorf("unexpected quote: %+v", quote.Fill)
	}
	if !quote.PriceAfter.GreaterThan(quote.PriceBefore) {
		t.Errorf("expected a buy to raise the price: %s -> %s", quote.PriceBefore, quote.PriceAfter)
	}

	// Quotes never touch state.
	w = do(t, router, "GET", "/api/v1/pools/"+asset.String(), nil)
	var pool trade.PoolView
	decode(t, w, &pool)
	if pool.UnitsSold != 0 {
		t.Errorf("quote changed the pool: %+v", pool.Pool)
	}

	for _, bad := range []string{"side=hold&amount=1", "side=buy&amount=-1", "side=sell"} {
		w = do(t, router, "GET", "/api/v1/pools/"+asset.String()+"/quote?"+bad, nil)
		expectStatus(t, w, http.StatusBadRequest)
	}
}

func TestGetPool_BadAddress(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/pools/not-an-address-0OIl", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestHistory(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)
	airdrop(t, router, trader, 2_000_000)

	for i := 0; i < 2; i++ {
		w := doTrade(t, router, trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideBuy, Amount: 1_000_000})
		expectStatus(t, w, http.StatusOK)
	}

	w := do(t, router, "GET", "/api/v1/pools/"+asset.String()+"/history", nil)
	expectStatus(t, w, http.StatusOK)
	var records []model.TradeRecord
	decode(t, w, &records)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Side != model.SideBuy || rec.Trader != trader || rec.ReserveAmount != 1_000_000 {
			t.Errorf("unexpected record: %+v", rec)
		}
	}

	w = do(t, router, "GET", "/api/v1/accounts/"+trader.String()+"/trades", nil)
	expectStatus(t, w, http.StatusOK)
	records = nil
	decode(t, w, &records)
	if len(records) != 2 {
		t.Errorf("expected 2 trader records, got %d", len(records))
	}
}

// --- Withdrawal ---

func TestWithdraw_Gating(t *testing.T) {
	_, router := newTestEnv(t)
	seedProtocol(t, router)
	path := "/api/v1/pools/" + asset.String() + "/withdraw"

	w := do(t, router, "POST", path, trade.WithdrawRequest{Actor: trader})
	expectStatus(t, w, http.StatusForbidden)

	w = do(t, router, "POST", path, trade.WithdrawRequest{Actor: owner})
	expectStatus(t, w, http.StatusConflict)
}

func TestWithdraw_AfterDeactivation(t *testing.T) {
	ms, router := newTestEnv(t)
	seedProtocol(t, router)
	airdrop(t, router, trader, 1_000_000)

	// Park the pool one unit short of the threshold so the next buy clamps.
	p, err := ms.GetPool(context.Background(), asset)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	p.UnitsSold = 800_000_000_000 - 1
	if err := ms.CommitTrade(context.Background(), p, &model.TradeRecord{ID: "seed", Asset: asset}); err != nil {
		t.Fatalf("seed units sold: %v", err)
	}

	w := doTrade(t, router, trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideBuy, Amount: 1_000_000})
	expectStatus(t, w, http.StatusOK)
	var resp trade.TradeResponse
	decode(t, w, &resp)
	if resp.Record.AssetAmount != 1 || !resp.Record.Deactivated || resp.Pool.Active {
		t.Fatalf("expected clamped deactivating buy, got %+v", resp.Record)
	}

	w = doTrade(t, router, trade.TradeRequest{Actor: trader, Asset: asset, Side: model.SideSell, Amount: 1})
	expectStatus(t, w, http.StatusConflict)

	path := "/api/v1/pools/" + asset.String() + "/withdraw"
	w = do(t, router, "POST", path, trade.WithdrawRequest{Actor: owner})
	expectStatus(t, w, http.StatusOK)
	if got := balanceOf(t, router, owner, "reserve"); got != 1_000_000 {
		t.Errorf("expected owner to receive 1000000 reserve, got %d", got)
	}
	// The 1-unit buy left V = supply - 1 and sold at the threshold; the
	// owner gets V - sold.
	const remainder = seedAsset - 1 - 800_000_000_000
	if got := balanceOf(t, router, owner, asset.String()); got != remainder {
		t.Errorf("expected owner to receive %d units, got %d", remainder, got)
	}
	if got := balanceOf(t, router, model.PoolAddress(asset), asset.String()); got != 1 {
		t.Errorf("expected pool to keep supply - V = 1 unit, got %d", got)
	}

	w = do(t, router, "POST", path, trade.WithdrawRequest{Actor: owner})
	expectStatus(t, w, http.StatusUnprocessableEntity)
}

// --- Faucet ---

func TestAirdrop_Disabled(t *testing.T) {
	ms := store.NewMemoryStore()
	lg := ledger.NewMemory()
	svc := trade.NewService(engine.New(books.NewSplit(ms, lg, lg), ms, nil, engine.DefaultPolicy()), ms, lg, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Mount)

	w := do(t, r, "POST", "/api/v1/accounts/"+trader.String()+"/airdrop", trade.AirdropRequest{Amount: 5})
	expectStatus(t, w, http.StatusNotFound)
}

func TestAirdrop_ZeroAmount(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/accounts/"+trader.String()+"/airdrop", trade.AirdropRequest{})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestGetBalance_UnknownCustody(t *testing.T) {
	_, router := newTestEnv(t)
	if got := balanceOf(t, router, trader, "reserve"); got != 0 {
		t.Errorf("expected zero balance, got %d", got)
	}
}
