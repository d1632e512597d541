package lending

import (
	"math/big"
	"sort"

	"p2plend/native/bank"
)

// view is a read-only snapshot helper over committed state. It holds the
// engine's read lock until close.
type view struct {
	engine   *Engine
	state    engineState
	market   *MarketConfig
	now      uint64
	prefetch *pricePrefetch
	oracle   *priceOracle
}

func (e *Engine) view() (*view, error) { return e.openView(false) }

// pricedView is view for queries that value collateral.
func (e *Engine) pricedView() (*view, error) { return e.openView(true) }

func (e *Engine) openView(priced bool) (*view, error) {
	if e == nil || e.db == nil {
		return nil, errNilState
	}
	var prefetch *pricePrefetch
	if priced {
		prefetch = e.prefetchPrice()
	}
	e.mu.RLock()
	st := newKVState(e.db)
	market, err := st.GetConfig()
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	return &view{engine: e, state: st, market: market, now: e.timestamp(), prefetch: prefetch}, nil
}

func (v *view) close() { v.engine.mu.RUnlock() }

func (v *view) priceOracle() (*priceOracle, error) {
	if v.oracle == nil {
		o, err := v.prefetch.bind(v.market, v.now)
		if err != nil {
			return nil, err
		}
		v.oracle = o
	}
	return v.oracle, nil
}

func (v *view) loan(id uint64) (*Loan, error) {
	loan, err := v.state.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, wrap(ErrLoanNotFound, "loan %d", id)
	}
	return loan, nil
}

// Market returns the persisted market configuration.
func (e *Engine) Market() (*MarketConfig, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	defer v.close()
	if v.market == nil {
		return nil, ErrNotInitialized
	}
	return v.market, nil
}

// Admin returns the market admin.
func (e *Engine) Admin() (string, error) {
	market, err := e.Market()
	if err != nil {
		return "", err
	}
	return market.Admin, nil
}

func (e *Engine) Offer(id uint64) (*Offer, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	defer v.close()
	offer, err := v.state.GetOffer(id)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, wrap(ErrOfferNotFound, "offer %d", id)
	}
	return offer, nil
}

func (e *Engine) Loan(id uint64) (*Loan, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	defer v.close()
	return v.loan(id)
}

// LoanHealth recomputes the loan's health from the live price and clock.
func (e *Engine) LoanHealth(id uint64) (*LoanHealth, error) {
	v, err := e.pricedView()
	if err != nil {
		return nil, err
	}
	defer v.close()
	loan, err := v.loan(id)
	if err != nil {
		return nil, err
	}
	o, err := v.priceOracle()
	if err != nil {
		return nil, err
	}
	return computeHealth(loan, o, v.now)
}

// IsLiquidatable reports whether the loan can be liquidated now. Inactive
// loans are never liquidatable.
func (e *Engine) IsLiquidatable(id uint64) (bool, error) {
	v, err := e.pricedView()
	if err != nil {
		return false, err
	}
	defer v.close()
	loan, err := v.loan(id)
	if err != nil {
		return false, err
	}
	if !loan.Active {
		return false, nil
	}
	o, err := v.priceOracle()
	if err != nil {
		return false, err
	}
	return isLiquidatable(loan, o, v.now)
}

// BatchCheckLiquidatable returns the subset of ids that are liquidatable, in
// input order. Unknown ids are skipped.
func (e *Engine) BatchCheckLiquidatable(ids []uint64) ([]uint64, error) {
	v, err := e.pricedView()
	if err != nil {
		return nil, err
	}
	defer v.close()
	out := make([]uint64, 0)
	for _, id := range ids {
		loan, err := v.state.GetLoan(id)
		if err != nil {
			return nil, err
		}
		if loan == nil || !loan.Active {
			continue
		}
		o, err := v.priceOracle()
		if err != nil {
			return nil, err
		}
		ok, err := isLiquidatable(loan, o, v.now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// LoanInterest is the unpaid interest of the loan: accumulated plus accrued
// since the last checkpoint.
func (e *Engine) LoanInterest(id uint64) (*big.Int, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	defer v.close()
	loan, err := v.loan(id)
	if err != nil {
		return nil, err
	}
	return OutstandingInterest(loan, v.now)
}

// LiquidationDistance is the collateral value in excess of the value at which
// the loan becomes liquidatable.
func (e *Engine) LiquidationDistance(id uint64) (*big.Int, error) {
	v, err := e.pricedView()
	if err != nil {
		return nil, err
	}
	defer v.close()
	loan, err := v.loan(id)
	if err != nil {
		return nil, err
	}
	o, err := v.priceOracle()
	if err != nil {
		return nil, err
	}
	health, err := computeHealth(loan, o, v.now)
	if err != nil {
		return nil, err
	}
	return LiquidationDistance(health, loan.LiquidationThreshold), nil
}

// CurrentPrice returns the validated collateral price.
func (e *Engine) CurrentPrice() (PriceQuote, error) {
	v, err := e.pricedView()
	if err != nil {
		return PriceQuote{}, err
	}
	defer v.close()
	o, err := v.priceOracle()
	if err != nil {
		return PriceQuote{}, err
	}
	return o.Price()
}

func (e *Engine) index(kind indexKind, owner string) ([]uint64, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	defer v.close()
	set, err := v.state.GetIndex(kind, owner)
	if err != nil {
		return nil, err
	}
	return set.sorted(), nil
}

// UserOffers lists every offer the user has created, active or not.
func (e *Engine) UserOffers(user string) ([]uint64, error) {
	return e.index(indexUserOffers, user)
}

// BorrowerLoans lists every loan the user has taken.
func (e *Engine) BorrowerLoans(user string) ([]uint64, error) {
	return e.index(indexBorrowerLoans, user)
}

// LenderLoans lists every loan drawn from the user's offers.
func (e *Engine) LenderLoans(user string) ([]uint64, error) {
	return e.index(indexLenderLoans, user)
}

func (e *Engine) ActiveOffers() ([]uint64, error) { return e.index(indexActiveOffers, "") }

func (e *Engine) ActiveLoans() ([]uint64, error) { return e.index(indexActiveLoans, "") }

// ListOffers pages through active offers with principal left, ordered by
// sort.
func (e *Engine) ListOffers(sortBy SortOption, offset, limit uint32) ([]*Offer, error) {
	if err := ValidatePagination(limit, e.cfg.MaxPageLimit); err != nil {
		return nil, err
	}
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	defer v.close()
	ids, err := v.state.GetIndex(indexActiveOffers, "")
	if err != nil {
		return nil, err
	}
	offers := make([]*Offer, 0, len(ids))
	for _, id := range ids.sorted() {
		offer, err := v.state.GetOffer(id)
		if err != nil {
			return nil, err
		}
		if offer == nil || !offer.Active || !isPositive(offer.USDCAmount) {
			continue
		}
		offers = append(offers, offer)
	}
	if err := sortOffers(offers, sortBy); err != nil {
		return nil, err
	}
	if uint64(offset) >= uint64(len(offers)) {
		return nil, ErrNoOffersAvailable
	}
	end := uint64(offset) + uint64(limit)
	if end > uint64(len(offers)) {
		end = uint64(len(offers))
	}
	return offers[offset:end], nil
}

func sortOffers(offers []*Offer, sortBy SortOption) error {
	var less func(a, b *Offer) bool
	switch sortBy {
	case SortBestRate, "":
		less = func(a, b *Offer) bool {
			if a.WeeklyInterestRate != b.WeeklyInterestRate {
				return a.WeeklyInterestRate < b.WeeklyInterestRate
			}
			return a.ID < b.ID
		}
	case SortHighestAmount:
		less = func(a, b *Offer) bool {
			if c := a.USDCAmount.Cmp(b.USDCAmount); c != 0 {
				return c > 0
			}
			return a.ID < b.ID
		}
	case SortNewest:
		less = func(a, b *Offer) bool {
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt > b.CreatedAt
			}
			return a.ID > b.ID
		}
	default:
		return wrap(ErrInvalidSortOption, "%q", sortBy)
	}
	sort.SliceStable(offers, func(i, j int) bool { return less(offers[i], offers[j]) })
	return nil
}

// Portfolio aggregates the user's active positions. Interest includes
// accrual up to now. The collateral price is omitted when the oracle cannot
// serve a fresh quote.
func (e *Engine) Portfolio(user string) (*Portfolio, error) {
	v, err := e.pricedView()
	if err != nil {
		return nil, err
	}
	defer v.close()
	out := &Portfolio{
		User:           user,
		TotalBorrowed:  big.NewInt(0),
		InterestOwed:   big.NewInt(0),
		TotalLent:      big.NewInt(0),
		InterestEarned: big.NewInt(0),
	}
	sum := func(kind indexKind, principal, interest *big.Int) (int, error) {
		ids, err := v.state.GetIndex(kind, user)
		if err != nil {
			return 0, err
		}
		count := 0
		for _, id := range ids.sorted() {
			loan, err := v.state.GetLoan(id)
			if err != nil {
				return 0, err
			}
			if loan == nil || !loan.Active {
				continue
			}
			owed, err := OutstandingInterest(loan, v.now)
			if err != nil {
				return 0, err
			}
			principal.Add(principal, loan.BorrowedAmount)
			interest.Add(interest, owed)
			count++
		}
		return count, nil
	}
	if out.BorrowerLoans, err = sum(indexBorrowerLoans, out.TotalBorrowed, out.InterestOwed); err != nil {
		return nil, err
	}
	if out.LenderLoans, err = sum(indexLenderLoans, out.TotalLent, out.InterestEarned); err != nil {
		return nil, err
	}
	offers, err := v.state.GetIndex(indexUserOffers, user)
	if err != nil {
		return nil, err
	}
	for _, id := range offers.sorted() {
		offer, err := v.state.GetOffer(id)
		if err != nil {
			return nil, err
		}
		if offer != nil && offer.Active {
			out.ActiveOffers++
		}
	}
	out.NetPosition = new(big.Int).Sub(out.InterestEarned, out.InterestOwed)
	if o, err := v.priceOracle(); err == nil {
		if q, err := o.Price(); err == nil {
			out.CollateralPrice = q.Price
		}
	}
	return out, nil
}

// Balance reports an account's holding of asset in the market ledger.
func (e *Engine) Balance(asset, account string) (*big.Int, error) {
	if e == nil || e.db == nil {
		return nil, errNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return bank.NewLedger(e.db).Balance(asset, account)
}
