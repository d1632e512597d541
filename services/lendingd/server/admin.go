package server

import (
	"math"
	"math/big"
	"net/http"
	"strings"

	"p2plend/native/lending"
)

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Market()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, marketDTO{
		Admin:           cfg.Admin,
		USDCToken:       cfg.USDCToken,
		XLMToken:        cfg.XLMToken,
		Oracle:          cfg.Oracle,
		MaxInterestRate: cfg.MaxInterestRate,
		Paused:          cfg.Paused,
		EscrowAccount:   s.engine.EscrowAccount(),
	})
}

// handleInitialize makes the caller the market admin.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.write(func() error {
		return s.engine.Initialize(caller, strings.TrimSpace(req.USDCToken), strings.TrimSpace(req.XLMToken),
			strings.TrimSpace(req.Oracle), req.MaxInterestRate)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleMarket(w, r)
}

func (s *Server) handleSetMaxRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req maxRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.write(func() error { return s.engine.SetMaxInterestRate(caller, req.MaxInterestRate) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleMarket(w, r)
}

func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req oracleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.write(func() error { return s.engine.SetOracle(caller, strings.TrimSpace(req.Oracle)) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleMarket(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, s.engine.Pause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, s.engine.Unpause)
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request, fn func(admin string) error) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.write(func() error { return fn(caller) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleMarket(w, r)
}

// handleFaucet mints test balances. Only the admin may call it and each
// recipient is bounded by the faucet quota.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.FaucetEnabled {
		writeMessage(w, http.StatusNotFound, "faucet disabled")
		return
	}
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req faucetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := amountOrError(w, "amount", req.Amount)
	if !ok {
		return
	}
	units := wholeUnits(amount, s.cfg.AssetUnit)
	if err := s.faucet.Consume(req.Recipient, s.now().Unix(), 1, units); err != nil {
		s.metrics.RecordThrottle("faucet", "quota_exceeded")
		s.writeError(w, r, err)
		return
	}
	if err := s.write(func() error { return s.engine.Mint(caller, req.Asset, req.Recipient, amount) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.engine.Balance(req.Asset, req.Recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     strings.ToUpper(strings.TrimSpace(req.Asset)),
		"recipient": req.Recipient,
		"balance":   balance.String(),
	})
}

// wholeUnits rounds amount up to whole tokens for quota accounting.
func wholeUnits(amount, unit *big.Int) uint64 {
	q, m := new(big.Int).QuoRem(amount, unit, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return math.MaxUint64
	}
	return q.Uint64()
}

// handleSetPrice stores an operator quote in the manual feed. Only the market
// admin may override prices.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PriceOverride == nil {
		writeMessage(w, http.StatusNotFound, "price overrides disabled")
		return
	}
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	market, err := s.engine.Market()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if caller != market.Admin {
		writeCoded(w, http.StatusForbidden, lending.ErrOnlyAdmin.Code, "caller is not the admin")
		return
	}
	var req priceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	asset := strings.TrimSpace(req.Asset)
	if asset == "" {
		asset = market.XLMToken
	}
	if err := s.cfg.PriceOverride.SetDecimal(asset, req.Price, s.now()); err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, err.Error())
		return
	}
	s.logger.Info("price override stored", "caller", caller, "asset", asset, "price", req.Price)
	s.handlePrice(w, r)
}
