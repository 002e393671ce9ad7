// Package trade provides the HTTP handlers for protocol setup, pool
// launches, trading, quotes and migration withdrawals.
//
// Quantities cross the wire as base-10 strings of u64 minimal units;
// display prices use shopspring/decimal, never float64.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/curve-engine/internal/curve"
	"github.com/atmx/curve-engine/internal/engine"
	"github.com/atmx/curve-engine/internal/ledger"
	"github.com/atmx/curve-engine/internal/metadata"
	"github.com/atmx/curve-engine/internal/model"
	"github.com/atmx/curve-engine/internal/store"
)

// Service exposes the engine over HTTP. Serialization of trades per pool
// lives in the engine, so handlers run concurrently.
type Service struct {
	eng    *engine.Engine
	store  store.Store
	ledger ledger.Ledger
	faucet ledger.Minter // nil disables airdrops
}

// NewService creates a new trade service.
// Pass nil for faucet outside development.
func NewService(eng *engine.Engine, st store.Store, lg ledger.Ledger, faucet ledger.Minter) *Service {
	return &Service{
		eng:    eng,
		store:  st,
		ledger: lg,
		faucet: faucet,
	}
}

// Mount registers the service routes on r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/protocol", s.GetProtocol)
	r.Post("/protocol", s.InitProtocol)

	r.Get("/pools", s.ListPools)
	r.Post("/pools", s.LaunchPool)
	r.Get("/pools/{asset}", s.GetPool)
	r.Get("/pools/{asset}/quote", s.GetQuote)
	r.Get("/pools/{asset}/history", s.GetPoolHistory)
	r.Post("/pools/{asset}/withdraw", s.Withdraw)

	r.Post("/trade", s.ExecuteTrade)

	r.Get("/accounts/{owner}/balances/{asset}", s.GetBalance)
	r.Get("/accounts/{owner}/trades", s.GetAccountTrades)
	r.Post("/accounts/{owner}/airdrop", s.Airdrop)
}

// --- Request/Response types ---

// InitProtocolRequest is the JSON body for POST /protocol. Actor becomes
// the protocol owner.
type InitProtocolRequest struct {
	Actor                 model.Address  `json:"actor"`
	SaleTarget            *model.Address `json:"sale_target,omitempty"`
	TotalSupplyToMint     uint64         `json:"total_supply_to_mint,string,omitempty"`
	InitialVirtualReserve uint64         `json:"initial_virtual_reserve,string"`
	InitialVirtualAsset   uint64         `json:"initial_virtual_asset,string,omitempty"`
}

// LaunchRequest is the JSON body for POST /pools.
type LaunchRequest struct {
	Actor  model.Address  `json:"actor"`
	Asset  *model.Address `json:"asset,omitempty"`
	Name   string         `json:"name"`
	Symbol string         `json:"symbol"`
	URI    string         `json:"uri"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	Actor  model.Address `json:"actor"`
	Asset  model.Address `json:"asset"`
	Side   model.Side    `json:"side"`          // "buy" or "sell"
	Amount uint64        `json:"amount,string"` // reserve in for buys, units in for sells
}

// WithdrawRequest is the JSON body for POST /pools/{asset}/withdraw.
type WithdrawRequest struct {
	Actor model.Address `json:"actor"`
}

// AirdropRequest is the JSON body for POST /accounts/{owner}/airdrop.
type AirdropRequest struct {
	Amount uint64 `json:"amount,string"`
}

// PoolView is a pool with its derived display values.
type PoolView struct {
	model.Pool
	Price    decimal.Decimal `json:"price"`
	Progress decimal.Decimal `json:"progress"`
}

func newPoolView(p model.Pool) PoolView {
	return PoolView{Pool: p, Price: curve.SpotPrice(p), Progress: curve.Progress(p)}
}

// TradeResponse is the JSON body returned from POST /trade and withdrawals.
type TradeResponse struct {
	Record model.TradeRecord `json:"record"`
	Pool   PoolView          `json:"pool"`
}

// BalanceResponse is the JSON body returned from the balance endpoint.
type BalanceResponse struct {
	Owner   model.Address `json:"owner"`
	Asset   model.Address `json:"asset"`
	Balance uint64        `json:"balance,string"`
}

// --- HTTP Handlers ---

// InitProtocol handles POST /api/v1/protocol
func (s *Service) InitProtocol(w http.ResponseWriter, r *http.Request) {
	var req InitProtocolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg := model.IssuerConfig{
		Owner:                 req.Actor,
		TotalSupplyToMint:     req.TotalSupplyToMint,
		InitialVirtualReserve: req.InitialVirtualReserve,
		InitialVirtualAsset:   req.InitialVirtualAsset,
	}
	if req.SaleTarget != nil {
		cfg.SaleTarget = *req.SaleTarget
	}

	created, err := s.eng.InitProtocol(r.Context(), cfg)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetProtocol handles GET /api/v1/protocol
func (s *Service) GetProtocol(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.eng.Config(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// LaunchPool handles POST /api/v1/pools
func (s *Service) LaunchPool(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	cfg, err := s.eng.Config(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	launch := engine.LaunchRequest{
		Creator: req.Actor,
		Name:    req.Name,
		Symbol:  req.Symbol,
		URI:     req.URI,
	}
	if req.Asset != nil {
		launch.Asset = *req.Asset
	}

	pool, err := s.eng.Launch(ctx, *cfg, launch)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPoolView(*pool))
}

// ListPools handles GET /api/v1/pools
// Returns all pools, optionally filtered by ?active=true|false.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}

	var filter *bool
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "active must be true or false", http.StatusBadRequest)
			return
		}
		filter = &active
	}

	views := []PoolView{}
	for _, p := range pools {
		if filter != nil && p.Active != *filter {
			continue
		}
		views = append(views, newPoolView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPool handles GET /api/v1/pools/{asset}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	asset, ok := addrParam(w, r, "asset")
	if !ok {
		return
	}

	pool, err := s.store.GetPool(r.Context(), asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(*pool))
}

// GetQuote handles GET /api/v1/pools/{asset}/quote?side=buy&amount=N
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	asset, ok := addrParam(w, r, "asset")
	if !ok {
		return
	}
	side := model.Side(r.URL.Query().Get("side"))
	if side != model.SideBuy && side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		writeError(w, "amount must be a base-10 u64", http.StatusBadRequest)
		return
	}

	q, err := s.eng.Quote(r.Context(), asset, side, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetPoolHistory handles GET /api/v1/pools/{asset}/history
// Returns trade records to reconstruct price history.
func (s *Service) GetPoolHistory(w http.ResponseWriter, r *http.Request) {
	asset, ok := addrParam(w, r, "asset")
	if !ok {
		return
	}

	records, err := s.store.GetTradesByPool(r.Context(), asset)
	if err != nil {
		writeError(w, "failed to get pool history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ExecuteTrade handles POST /api/v1/trade
// Executes against the curve, returns the record and the updated pool.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Actor == (model.Address{}) {
		writeError(w, "actor is required", http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var res *engine.Result
	var err error
	switch req.Side {
	case model.SideBuy:
		res, err = s.eng.Buy(ctx, req.Actor, req.Asset, req.Amount)
	case model.SideSell:
		res, err = s.eng.Sell(ctx, req.Actor, req.Asset, req.Amount)
	default:
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{Record: res.Record, Pool: newPoolView(res.Pool)})
}

// Withdraw handles POST /api/v1/pools/{asset}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	asset, ok := addrParam(w, r, "asset")
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	cfg, err := s.eng.Config(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	res, err := s.eng.Withdraw(ctx, *cfg, req.Actor, asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{Record: res.Record, Pool: newPoolView(res.Pool)})
}

// GetBalance handles GET /api/v1/accounts/{owner}/balances/{asset}
// The asset "reserve" names the reserve currency.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := addrParam(w, r, "owner")
	if !ok {
		return
	}
	asset := model.ReserveAsset
	if chi.URLParam(r, "asset") != "reserve" {
		if asset, ok = addrParam(w, r, "asset"); !ok {
			return
		}
	}

	bal, err := s.ledger.Balance(r.Context(), model.CustodyAddress(owner, asset))
	if err != nil && !errors.Is(err, ledger.ErrUnknownCustody) {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Owner: owner, Asset: asset, Balance: bal})
}

// GetAccountTrades handles GET /api/v1/accounts/{owner}/trades
func (s *Service) GetAccountTrades(w http.ResponseWriter, r *http.Request) {
	owner, ok := addrParam(w, r, "owner")
	if !ok {
		return
	}

	records, err := s.store.GetTradesByTrader(r.Context(), owner)
	if err != nil {
		writeError(w, "failed to get trades", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Airdrop handles POST /api/v1/accounts/{owner}/airdrop
// Development only: credits reserve out of thin air.
func (s *Service) Airdrop(w http.ResponseWriter, r *http.Request) {
	if s.faucet == nil {
		writeError(w, "faucet disabled", http.StatusNotFound)
		return
	}
	owner, ok := addrParam(w, r, "owner")
	if !ok {
		return
	}
	var req AirdropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	loc, err := s.ledger.CreateCustody(ctx, owner, model.ReserveAsset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.faucet.Mint(ctx, loc, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	bal, _ := s.ledger.Balance(ctx, loc)

	slog.Info("airdrop", "owner", owner.String(), "amount", req.Amount)
	writeJSON(w, http.StatusOK, BalanceResponse{Owner: owner, Asset: model.ReserveAsset, Balance: bal})
}

// --- Helpers ---

func addrParam(w http.ResponseWriter, r *http.Request, name string) (model.Address, bool) {
	raw := chi.URLParam(r, name)
	addr, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		writeError(w, "invalid "+name+" address: "+raw, http.StatusBadRequest)
		return model.Address{}, false
	}
	return addr, true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, curve.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, metadata.ErrInvalidName),
		errors.Is(err, metadata.ErrInvalidSymbol),
		errors.Is(err, metadata.ErrInvalidURI),
		errors.Is(err, ledger.ErrAssetMismatch):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotOwner),
		errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, engine.ErrProtocolNotInitialized),
		errors.Is(err, ledger.ErrUnknownCustody):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, engine.ErrPoolInactive),
		errors.Is(err, engine.ErrPoolStillActive):
		return http.StatusConflict
	case errors.Is(err, curve.ErrInsufficientReserveBalance),
		errors.Is(err, curve.ErrInsufficientAssetBalance),
		errors.Is(err, curve.ErrArithmeticOverflow),
		errors.Is(err, curve.ErrCalculation),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrOverflow):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
