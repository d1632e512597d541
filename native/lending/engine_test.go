package lending

import (
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"p2plend/core/events"
	"p2plend/storage"
)

const (
	testAdmin      = "admin"
	testLender     = "lender"
	testBorrower   = "borrower"
	testLiquidator = "liquidator"
	testUSDC       = "USDC"
	testXLM        = "XLM"
	testOracle     = "oracle-1"
)

// unit is one token at seven implied decimals.
var unit = big.NewInt(10_000_000)

func units(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), unit) }

type stubFeed struct {
	price    *big.Int
	ts       uint64
	decimals uint32
	missing  bool
	onQuote  func()
}

func (f *stubFeed) LastPrice(string) (PriceQuote, bool) {
	if f.onQuote != nil {
		f.onQuote()
	}
	if f.missing {
		return PriceQuote{}, false
	}
	return PriceQuote{Price: new(big.Int).Set(f.price), Timestamp: f.ts}, true
}

func (f *stubFeed) Decimals() uint32 { return f.decimals }

type stubResolver map[string]PriceFeed

func (r stubResolver) Feed(address string) (PriceFeed, bool) {
	feed, ok := r[address]
	return feed, ok
}

type stubPauseView struct{ paused map[string]bool }

func (s stubPauseView) IsPaused(module string) bool { return s.paused[module] }

type testMarket struct {
	engine   *Engine
	db       *storage.MemDB
	feed     *stubFeed
	recorder *events.Recorder
	now      time.Time
}

func (m *testMarket) advance(d time.Duration) {
	m.now = m.now.Add(d)
	m.feed.ts = uint64(m.now.Unix())
}

// setPrice sets the collateral price in cents at 14 decimals.
func (m *testMarket) setPrice(cents int64) {
	m.feed.price = new(big.Int).Mul(big.NewInt(cents), big.NewInt(1_000_000_000_000))
	m.feed.ts = uint64(m.now.Unix())
}

func newTestMarket(t *testing.T) *testMarket {
	t.Helper()
	m := &testMarket{
		db:       storage.NewMemDB(),
		recorder: &events.Recorder{},
		now:      time.Unix(1_700_000_000, 0),
	}
	m.feed = &stubFeed{decimals: 14}
	m.setPrice(15)
	engine, err := NewEngine(m.db, stubResolver{testOracle: m.feed}, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(func() time.Time { return m.now })
	engine.SetEmitter(m.recorder)
	m.engine = engine
	return m
}

func newFundedMarket(t *testing.T) *testMarket {
	t.Helper()
	m := newTestMarket(t)
	if err := m.engine.Initialize(testAdmin, testUSDC, testXLM, testOracle, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.mint(t, testUSDC, testLender, units(1_000))
	m.mint(t, testXLM, testBorrower, units(10_000))
	m.mint(t, testUSDC, testLiquidator, units(1_000))
	return m
}

func (m *testMarket) mint(t *testing.T, asset, to string, amount *big.Int) {
	t.Helper()
	if err := m.engine.Mint(testAdmin, asset, to, amount); err != nil {
		t.Fatalf("mint %s to %s: %v", asset, to, err)
	}
}

func (m *testMarket) balance(t *testing.T, asset, account string) *big.Int {
	t.Helper()
	bal, err := m.engine.Balance(asset, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func defaultOffer(amount *big.Int) OfferParams {
	return OfferParams{
		Amount:               amount,
		WeeklyInterestRate:   500,
		MinCollateralRatio:   15_000,
		LiquidationThreshold: 12_500,
		MaxDurationWeeks:     12,
	}
}

// openLoan lists a 100 unit offer and borrows all of it against 1000 XLM,
// which is exactly 150% collateralised at $0.15.
func (m *testMarket) openLoan(t *testing.T) (uint64, uint64) {
	t.Helper()
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	loanID, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(100))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return offerID, loanID
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s: expected %s, got %v", label, want, got)
	}
}

func TestInitializeOnce(t *testing.T) {
	m := newTestMarket(t)
	if _, err := m.engine.CreateOffer(testLender, defaultOffer(units(1))); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := m.engine.Initialize(testAdmin, testUSDC, testXLM, testOracle, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.engine.Initialize("other", testUSDC, testXLM, testOracle, 0); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	market, err := m.engine.Market()
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if market.Admin != testAdmin || market.MaxInterestRate != DefaultMaxInterestRate || market.Paused {
		t.Fatalf("unexpected market: %+v", market)
	}
}

func TestInitializeValidatesAddresses(t *testing.T) {
	m := newTestMarket(t)
	if err := m.engine.Initialize(testAdmin, "", testXLM, testOracle, 0); !errors.Is(err, ErrUsdcTokenNotSet) {
		t.Fatalf("expected ErrUsdcTokenNotSet, got %v", err)
	}
	if err := m.engine.Initialize(testAdmin, testUSDC, "", testOracle, 0); !errors.Is(err, ErrXlmTokenNotSet) {
		t.Fatalf("expected ErrXlmTokenNotSet, got %v", err)
	}
	if err := m.engine.Initialize(testAdmin, testUSDC, testXLM, "", 0); !errors.Is(err, ErrOracleNotSet) {
		t.Fatalf("expected ErrOracleNotSet, got %v", err)
	}
	if err := m.engine.Initialize("", testUSDC, testXLM, testOracle, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateOfferEscrowsPrincipal(t *testing.T) {
	m := newFundedMarket(t)
	id, err := m.engine.CreateOffer(testLender, defaultOffer(units(250)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first offer id 1, got %d", id)
	}
	expectAmount(t, "lender balance", m.balance(t, testUSDC, testLender), units(750))
	expectAmount(t, "escrow balance", m.balance(t, testUSDC, DefaultEscrowAccount), units(250))

	offer, err := m.engine.Offer(id)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if !offer.Active || offer.Lender != testLender || offer.CreatedAt != uint64(m.now.Unix()) {
		t.Fatalf("unexpected offer: %+v", offer)
	}
	active, _ := m.engine.ActiveOffers()
	owned, _ := m.engine.UserOffers(testLender)
	if !reflect.DeepEqual(active, []uint64{1}) || !reflect.DeepEqual(owned, []uint64{1}) {
		t.Fatalf("unexpected indexes: active=%v owned=%v", active, owned)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	m := newFundedMarket(t)
	cases := []struct {
		name   string
		mutate func(*OfferParams)
		want   error
	}{
		{"zero amount", func(p *OfferParams) { p.Amount = big.NewInt(0) }, ErrInvalidOfferAmount},
		{"zero rate", func(p *OfferParams) { p.WeeklyInterestRate = 0 }, ErrInvalidInterestRate},
		{"rate above max", func(p *OfferParams) { p.WeeklyInterestRate = DefaultMaxInterestRate + 1 }, ErrInvalidInterestRate},
		{"ratio below par", func(p *OfferParams) { p.MinCollateralRatio = 9_999 }, ErrInvalidCollateralRatio},
		{"ratio above ceiling", func(p *OfferParams) { p.MinCollateralRatio = 50_001 }, ErrInvalidCollateralRatio},
		{"threshold below par", func(p *OfferParams) { p.LiquidationThreshold = 9_000 }, ErrInvalidLiquidationThreshold},
		{"threshold equals ratio", func(p *OfferParams) { p.LiquidationThreshold = 15_000 }, ErrInvalidLiquidationThreshold},
		{"zero duration", func(p *OfferParams) { p.MaxDurationWeeks = 0 }, ErrInvalidInput},
		{"amount above balance", func(p *OfferParams) { p.Amount = units(5_000) }, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		params := defaultOffer(units(10))
		tc.mutate(&params)
		if _, err := m.engine.CreateOffer(testLender, params); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if offers, _ := m.engine.UserOffers(testLender); len(offers) != 0 {
		t.Fatalf("rejected offers must not be indexed, got %v", offers)
	}
}

func TestOfferCapCountsHistory(t *testing.T) {
	m := newFundedMarket(t)
	for i := 0; i < DefaultMaxOffersPerUser; i++ {
		id, err := m.engine.CreateOffer(testLender, defaultOffer(units(1)))
		if err != nil {
			t.Fatalf("create offer %d: %v", i, err)
		}
		if err := m.engine.CancelOffer(testLender, id); err != nil {
			t.Fatalf("cancel offer %d: %v", id, err)
		}
	}
	if _, err := m.engine.CreateOffer(testLender, defaultOffer(units(1))); !errors.Is(err, ErrTooManyOffers) {
		t.Fatalf("expected ErrTooManyOffers, got %v", err)
	}
}

func TestCancelOfferRefundsRemaining(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(300)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := m.engine.CancelOffer(testBorrower, offerID); !errors.Is(err, ErrOnlyLender) {
		t.Fatalf("expected ErrOnlyLender, got %v", err)
	}
	if err := m.engine.CancelOffer(testLender, offerID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	expectAmount(t, "lender balance", m.balance(t, testUSDC, testLender), units(900))
	expectAmount(t, "escrow usdc", m.balance(t, testUSDC, DefaultEscrowAccount), big.NewInt(0))

	offer, _ := m.engine.Offer(offerID)
	if offer.Active {
		t.Fatalf("expected offer to be inactive")
	}
	if active, _ := m.engine.ActiveOffers(); len(active) != 0 {
		t.Fatalf("expected no active offers, got %v", active)
	}
	if err := m.engine.CancelOffer(testLender, offerID); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("expected ErrOfferNotActive, got %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(100), units(1)); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("expected ErrOfferNotActive, got %v", err)
	}
	if err := m.engine.CancelOffer(testLender, 99); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
}

func TestWithdrawFromOffer(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := m.engine.WithdrawFromOffer(testLender, offerID, units(101)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for excess, got %v", err)
	}
	if err := m.engine.WithdrawFromOffer(testLender, offerID, big.NewInt(0)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero, got %v", err)
	}
	if err := m.engine.WithdrawFromOffer(testBorrower, offerID, units(1)); !errors.Is(err, ErrOnlyLender) {
		t.Fatalf("expected ErrOnlyLender, got %v", err)
	}
	if err := m.engine.WithdrawFromOffer(testLender, offerID, units(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	offer, _ := m.engine.Offer(offerID)
	expectAmount(t, "offer amount", offer.USDCAmount, units(60))
	if !offer.Active {
		t.Fatalf("partial withdrawal must keep the offer active")
	}
	expectAmount(t, "lender balance", m.balance(t, testUSDC, testLender), units(940))
}

func TestBorrowGuardsInOrder(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, 42, units(1_000), units(10)); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, big.NewInt(0), units(101)); !errors.Is(err, ErrInsufficientOfferFunds) {
		t.Fatalf("expected ErrInsufficientOfferFunds before amount checks, got %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, big.NewInt(0), units(10)); !errors.Is(err, ErrInvalidCollateralAmount) {
		t.Fatalf("expected ErrInvalidCollateralAmount, got %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(10), big.NewInt(0)); !errors.Is(err, ErrInvalidBorrowAmount) {
		t.Fatalf("expected ErrInvalidBorrowAmount, got %v", err)
	}
	// 999 XLM at $0.15 supports 99.9 units at 150%.
	if _, err := m.engine.Borrow(testBorrower, offerID, units(999), units(100)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestBorrowMovesFundsAndIndexes(t *testing.T) {
	m := newFundedMarket(t)
	offerID, loanID := m.openLoan(t)
	if loanID != 1 {
		t.Fatalf("expected first loan id 1, got %d", loanID)
	}
	expectAmount(t, "borrower usdc", m.balance(t, testUSDC, testBorrower), units(100))
	expectAmount(t, "borrower xlm", m.balance(t, testXLM, testBorrower), units(9_000))
	expectAmount(t, "escrow xlm", m.balance(t, testXLM, DefaultEscrowAccount), units(1_000))
	expectAmount(t, "escrow usdc", m.balance(t, testUSDC, DefaultEscrowAccount), big.NewInt(0))

	offer, _ := m.engine.Offer(offerID)
	expectAmount(t, "offer remaining", offer.USDCAmount, big.NewInt(0))

	loan, err := m.engine.Loan(loanID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if loan.Lender != testLender || loan.InterestRate != 500 || loan.LiquidationThreshold != 12_500 || !loan.Active {
		t.Fatalf("unexpected loan: %+v", loan)
	}
	borrowerLoans, _ := m.engine.BorrowerLoans(testBorrower)
	lenderLoans, _ := m.engine.LenderLoans(testLender)
	activeLoans, _ := m.engine.ActiveLoans()
	for name, ids := range map[string][]uint64{"borrower": borrowerLoans, "lender": lenderLoans, "active": activeLoans} {
		if !reflect.DeepEqual(ids, []uint64{loanID}) {
			t.Fatalf("%s index: expected [%d], got %v", name, loanID, ids)
		}
	}
}

func TestLoanCapCountsHistory(t *testing.T) {
	m := newFundedMarket(t)
	m.mint(t, testUSDC, testLender, units(10_000))
	m.mint(t, testUSDC, testBorrower, units(10_000))
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(1_000)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	for i := 0; i < DefaultMaxLoansPerUser; i++ {
		loanID, err := m.engine.Borrow(testBorrower, offerID, units(20), units(1))
		if err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
		if err := m.engine.Repay(testBorrower, loanID, units(1)); err != nil {
			t.Fatalf("repay %d: %v", loanID, err)
		}
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(20), units(1)); !errors.Is(err, ErrTooManyLoans) {
		t.Fatalf("expected ErrTooManyLoans, got %v", err)
	}
}

func TestRepayInterestFirst(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)
	m.advance(7 * 24 * time.Hour)

	interest, err := m.engine.LoanInterest(loanID)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	expectAmount(t, "weekly interest", interest, units(5))

	if err := m.engine.Repay(testBorrower, loanID, units(3)); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	loan, _ := m.engine.Loan(loanID)
	expectAmount(t, "principal after partial interest", loan.BorrowedAmount, units(100))
	expectAmount(t, "accumulated after partial interest", loan.AccumulatedInterest, units(2))
	if loan.LastInterestUpdate != uint64(m.now.Unix()) {
		t.Fatalf("expected checkpoint to move to now")
	}
	expectAmount(t, "lender received", m.balance(t, testUSDC, testLender), units(903))

	if err := m.engine.Repay(testBorrower, loanID, units(12)); err != nil {
		t.Fatalf("repay into principal: %v", err)
	}
	loan, _ = m.engine.Loan(loanID)
	expectAmount(t, "principal after repay", loan.BorrowedAmount, units(90))
	expectAmount(t, "accumulated cleared", loan.AccumulatedInterest, big.NewInt(0))
}

func TestRepayToZeroClosesLoan(t *testing.T) {
	m := newFundedMarket(t)
	m.mint(t, testUSDC, testBorrower, units(50))
	_, loanID := m.openLoan(t)
	m.advance(4 * 7 * 24 * time.Hour)

	health, err := m.engine.LoanHealth(loanID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	expectAmount(t, "debt after four weeks", health.DebtValueUSD, units(120))

	if err := m.engine.Repay(testBorrower, loanID, units(121)); !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected ErrRepayExceedsDebt, got %v", err)
	}
	if err := m.engine.Repay(testBorrower, loanID, big.NewInt(0)); !errors.Is(err, ErrInvalidRepayAmount) {
		t.Fatalf("expected ErrInvalidRepayAmount, got %v", err)
	}
	if err := m.engine.Repay(testLender, loanID, units(1)); !errors.Is(err, ErrOnlyBorrower) {
		t.Fatalf("expected ErrOnlyBorrower, got %v", err)
	}

	for _, part := range []int64{30, 50, 40} {
		if err := m.engine.Repay(testBorrower, loanID, units(part)); err != nil {
			t.Fatalf("repay %d: %v", part, err)
		}
	}
	loan, _ := m.engine.Loan(loanID)
	if loan.Active {
		t.Fatalf("expected loan to close once debt reaches zero")
	}
	expectAmount(t, "principal", loan.BorrowedAmount, big.NewInt(0))
	expectAmount(t, "accumulated", loan.AccumulatedInterest, big.NewInt(0))
	expectAmount(t, "collateral returned", m.balance(t, testXLM, testBorrower), units(10_000))
	expectAmount(t, "lender repaid", m.balance(t, testUSDC, testLender), units(1_020))
	if active, _ := m.engine.ActiveLoans(); len(active) != 0 {
		t.Fatalf("expected no active loans, got %v", active)
	}
	if err := m.engine.Repay(testBorrower, loanID, units(1)); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}

	types := m.recorder.Types()
	last := types[len(types)-2:]
	if !reflect.DeepEqual(last, []string{events.TypeLoanRepaid, events.TypeLoanClosed}) {
		t.Fatalf("unexpected trailing events: %v", last)
	}
}

func TestCollateralAdjustments(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)

	// The loan sits exactly at 150%, the threshold plus the safety margin.
	if err := m.engine.WithdrawCollateral(testBorrower, loanID, units(1)); !errors.Is(err, ErrWithdrawalBreachesHealth) {
		t.Fatalf("expected ErrWithdrawalBreachesHealth, got %v", err)
	}
	if err := m.engine.AddCollateral(testBorrower, loanID, units(1_000)); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if err := m.engine.AddCollateral(testBorrower, loanID, big.NewInt(0)); !errors.Is(err, ErrInvalidCollateralAmount) {
		t.Fatalf("expected ErrInvalidCollateralAmount, got %v", err)
	}
	if err := m.engine.WithdrawCollateral(testBorrower, loanID, units(2_001)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for excess withdrawal, got %v", err)
	}
	if err := m.engine.WithdrawCollateral(testBorrower, loanID, units(1_000)); err != nil {
		t.Fatalf("withdraw back to 150%%: %v", err)
	}
	if err := m.engine.WithdrawCollateral(testLender, loanID, units(1)); !errors.Is(err, ErrOnlyBorrower) {
		t.Fatalf("expected ErrOnlyBorrower, got %v", err)
	}
	loan, _ := m.engine.Loan(loanID)
	expectAmount(t, "collateral", loan.CollateralAmount, units(1_000))
	expectAmount(t, "borrower xlm", m.balance(t, testXLM, testBorrower), units(9_000))
}

func TestLiquidationDistributesValue(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)

	if _, err := m.engine.Liquidate(testLiquidator, loanID); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}

	m.setPrice(12)
	ok, err := m.engine.IsLiquidatable(loanID)
	if err != nil || !ok {
		t.Fatalf("expected loan to be liquidatable, got %v (%v)", ok, err)
	}
	health, err := m.engine.LoanHealth(loanID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.CollateralizationRatio != 12_000 || health.HealthFactor != 9_600 {
		t.Fatalf("unexpected health: %+v", health)
	}

	settlement, err := m.engine.Liquidate(testLiquidator, loanID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	expectAmount(t, "value", settlement.CollateralValue, units(120))
	expectAmount(t, "debt", settlement.DebtRepaid, units(100))
	expectAmount(t, "bonus", settlement.Bonus, units(6))
	expectAmount(t, "excess", settlement.Excess, units(14))
	sum := new(big.Int).Add(settlement.DebtRepaid, settlement.Bonus)
	sum.Add(sum, settlement.Excess)
	expectAmount(t, "conservation", sum, settlement.CollateralValue)

	expectAmount(t, "liquidator xlm", m.balance(t, testXLM, testLiquidator), units(1_000))
	expectAmount(t, "liquidator usdc", m.balance(t, testUSDC, testLiquidator), units(886))
	expectAmount(t, "lender usdc", m.balance(t, testUSDC, testLender), units(1_000))
	expectAmount(t, "borrower usdc", m.balance(t, testUSDC, testBorrower), units(114))
	expectAmount(t, "escrow xlm", m.balance(t, testXLM, DefaultEscrowAccount), big.NewInt(0))

	loan, _ := m.engine.Loan(loanID)
	if loan.Active {
		t.Fatalf("expected liquidated loan to be inactive")
	}
	if ok, err := m.engine.IsLiquidatable(loanID); err != nil || ok {
		t.Fatalf("inactive loan must not be liquidatable, got %v (%v)", ok, err)
	}
	if _, err := m.engine.Liquidate(testLiquidator, loanID); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
	if active, _ := m.engine.ActiveLoans(); len(active) != 0 {
		t.Fatalf("expected no active loans, got %v", active)
	}
}

func TestLiquidationShortfallMovesNothing(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)
	m.setPrice(9)

	if _, err := m.engine.Liquidate(testLiquidator, loanID); !errors.Is(err, ErrInsufficientCollateralValue) {
		t.Fatalf("expected ErrInsufficientCollateralValue, got %v", err)
	}
	expectAmount(t, "liquidator usdc", m.balance(t, testUSDC, testLiquidator), units(1_000))
	expectAmount(t, "liquidator xlm", m.balance(t, testXLM, testLiquidator), big.NewInt(0))
	expectAmount(t, "escrow xlm", m.balance(t, testXLM, DefaultEscrowAccount), units(1_000))
	loan, _ := m.engine.Loan(loanID)
	if !loan.Active {
		t.Fatalf("failed liquidation must leave the loan active")
	}
}

func TestLiquidatorWithoutFundsRollsBack(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)
	m.setPrice(12)

	if _, err := m.engine.Liquidate("broke", loanID); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// The collateral transfer happened first inside the operation and must
	// not survive the failure.
	expectAmount(t, "broke xlm", m.balance(t, testXLM, "broke"), big.NewInt(0))
	expectAmount(t, "escrow xlm", m.balance(t, testXLM, DefaultEscrowAccount), units(1_000))
}

func TestFailedBorrowLeavesNoWrites(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	m.mint(t, testXLM, "poor", units(10))
	before := m.db.Len()
	if _, err := m.engine.Borrow("poor", offerID, units(1_000), units(10)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if m.db.Len() != before {
		t.Fatalf("expected no new keys after failure, got %d -> %d", before, m.db.Len())
	}
	loanID, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if loanID != 1 {
		t.Fatalf("failed borrow must not consume a loan id, got %d", loanID)
	}
}

func TestOracleFailuresPropagate(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	m.feed.ts = uint64(m.now.Unix()) - DefaultStalenessSeconds - 1
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10)); !errors.Is(err, ErrStalePriceData) {
		t.Fatalf("expected ErrStalePriceData, got %v", err)
	}
	m.feed.ts = uint64(m.now.Unix()) - DefaultStalenessSeconds
	if _, err := m.engine.CurrentPrice(); err != nil {
		t.Fatalf("quote at the staleness limit should pass: %v", err)
	}

	m.setPrice(0)
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10)); !errors.Is(err, ErrInvalidPriceData) {
		t.Fatalf("expected ErrInvalidPriceData, got %v", err)
	}
	m.setPrice(15)
	m.feed.missing = true
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10)); !errors.Is(err, ErrPriceNotAvailable) {
		t.Fatalf("expected ErrPriceNotAvailable, got %v", err)
	}
	m.feed.missing = false

	if err := m.engine.SetOracle(testAdmin, "unknown"); err != nil {
		t.Fatalf("set oracle: %v", err)
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10)); !errors.Is(err, ErrOracleNotSet) {
		t.Fatalf("expected ErrOracleNotSet, got %v", err)
	}
}

func TestPauseBlocksMutationsOnly(t *testing.T) {
	m := newFundedMarket(t)
	offerID, loanID := m.openLoan(t)

	if err := m.engine.Pause(testLender); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin, got %v", err)
	}
	if err := m.engine.Pause(testAdmin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := m.engine.CreateOffer(testLender, defaultOffer(units(1))); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected ErrContractPaused, got %v", err)
	}
	if err := m.engine.Repay(testBorrower, loanID, units(1)); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected ErrContractPaused, got %v", err)
	}
	if err := m.engine.CancelOffer(testLender, offerID); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected ErrContractPaused, got %v", err)
	}
	if _, err := m.engine.LoanHealth(loanID); err != nil {
		t.Fatalf("queries must work while paused: %v", err)
	}
	if err := m.engine.SetMaxInterestRate(testAdmin, 1_000); err != nil {
		t.Fatalf("admin operations must work while paused: %v", err)
	}
	if err := m.engine.Unpause(testAdmin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := m.engine.Repay(testBorrower, loanID, units(1)); err != nil {
		t.Fatalf("repay after unpause: %v", err)
	}

	m.engine.SetPauses(stubPauseView{paused: map[string]bool{moduleName: true}})
	if err := m.engine.Repay(testBorrower, loanID, units(1)); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected ErrContractPaused from external switch, got %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	m := newFundedMarket(t)
	if err := m.engine.SetMaxInterestRate(testLender, 100); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin, got %v", err)
	}
	if err := m.engine.SetMaxInterestRate(testAdmin, 0); !errors.Is(err, ErrInvalidInterestRate) {
		t.Fatalf("expected ErrInvalidInterestRate, got %v", err)
	}
	if err := m.engine.SetMaxInterestRate(testAdmin, 400); err != nil {
		t.Fatalf("set max rate: %v", err)
	}
	if _, err := m.engine.CreateOffer(testLender, defaultOffer(units(1))); !errors.Is(err, ErrInvalidInterestRate) {
		t.Fatalf("expected the new ceiling to apply, got %v", err)
	}
	if err := m.engine.SetOracle(testAdmin, " "); !errors.Is(err, ErrOracleNotSet) {
		t.Fatalf("expected ErrOracleNotSet, got %v", err)
	}
	if err := m.engine.Mint(testLender, testUSDC, testLender, units(1)); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin for mint, got %v", err)
	}
	if err := m.engine.Mint(testAdmin, "BTC", testLender, units(1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown asset, got %v", err)
	}
	admin, err := m.engine.Admin()
	if err != nil || admin != testAdmin {
		t.Fatalf("unexpected admin %q (%v)", admin, err)
	}
}

func TestFeedCallbackMayCallEngine(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	var (
		nestedID uint64
		nested   error
	)
	m.feed.onQuote = func() {
		m.feed.onQuote = nil
		nestedID, nested = m.engine.CreateOffer(testLender, defaultOffer(units(1)))
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if nested != nil || nestedID != 2 {
		t.Fatalf("expected the nested offer to be created, got %d (%v)", nestedID, nested)
	}
	if _, err := m.engine.CreateOffer(testLender, defaultOffer(units(1))); err != nil {
		t.Fatalf("lock must be released after the operation: %v", err)
	}
}

func TestOracleSwitchedMidOperation(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	m.feed.onQuote = func() {
		m.feed.onQuote = nil
		if err := m.engine.SetOracle(testAdmin, "oracle-2"); err != nil {
			t.Errorf("set oracle: %v", err)
		}
	}
	if _, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(10)); !errors.Is(err, ErrPriceNotAvailable) {
		t.Fatalf("expected ErrPriceNotAvailable, got %v", err)
	}
	expectAmount(t, "borrower usdc", m.balance(t, testUSDC, testBorrower), big.NewInt(0))
}

// gatedDB holds every batch write until release is closed.
type gatedDB struct {
	*storage.MemDB
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDB) NewBatch() storage.Batch {
	return &gatedBatch{Batch: g.MemDB.NewBatch(), db: g}
}

type gatedBatch struct {
	storage.Batch
	db *gatedDB
}

func (b *gatedBatch) Write() error {
	select {
	case b.db.entered <- struct{}{}:
	default:
	}
	<-b.db.release
	return b.Batch.Write()
}

func TestConcurrentWritersQueue(t *testing.T) {
	m := newFundedMarket(t)
	gated := &gatedDB{MemDB: m.db, entered: make(chan struct{}, 1), release: make(chan struct{})}
	engine, err := NewEngine(gated, stubResolver{testOracle: m.feed}, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	now := m.now
	engine.SetClock(func() time.Time { return now })

	first := make(chan error, 1)
	go func() {
		_, err := engine.CreateOffer(testLender, defaultOffer(units(10)))
		first <- err
	}()
	<-gated.entered

	second := make(chan error, 1)
	go func() {
		_, err := engine.CreateOffer(testLender, defaultOffer(units(20)))
		second <- err
	}()
	select {
	case err := <-second:
		t.Fatalf("second writer finished while the first was committing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	if err := <-first; err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second writer should wait, not fail: %v", err)
	}
	ids, err := engine.UserOffers(testLender)
	if err != nil {
		t.Fatalf("user offers: %v", err)
	}
	if !reflect.DeepEqual(ids, []uint64{1, 2}) {
		t.Fatalf("expected offers [1 2], got %v", ids)
	}
	expectAmount(t, "lender usdc", m.balance(t, testUSDC, testLender), units(970))
}

func TestEscrowAccountCannotAct(t *testing.T) {
	m := newFundedMarket(t)
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(100)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	for _, caller := range []string{DefaultEscrowAccount, " Lending-Market "} {
		if _, err := m.engine.Borrow(caller, offerID, units(1_000), units(100)); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("borrow as %q: expected ErrUnauthorized, got %v", caller, err)
		}
		if _, err := m.engine.CreateOffer(caller, defaultOffer(units(1))); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("offer as %q: expected ErrUnauthorized, got %v", caller, err)
		}
	}
	for _, recipient := range []string{DefaultEscrowAccount, "LENDING-MARKET"} {
		if err := m.engine.Mint(testAdmin, testUSDC, recipient, units(1)); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("mint to %q: expected ErrUnauthorized, got %v", recipient, err)
		}
	}
	expectAmount(t, "escrow usdc", m.balance(t, testUSDC, DefaultEscrowAccount), units(100))
	if _, err := m.engine.Loan(1); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected no loan, got %v", err)
	}
}

func TestMintBoundsAmount(t *testing.T) {
	m := newFundedMarket(t)
	limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	if err := m.engine.Mint(testAdmin, testXLM, "whale", new(big.Int).Add(limit, big.NewInt(1))); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if err := m.engine.Mint(testAdmin, testXLM, "whale", limit); err != nil {
		t.Fatalf("mint at the bound: %v", err)
	}
	if err := m.engine.Mint(testAdmin, testXLM, "whale", big.NewInt(0)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBatchCheckLiquidatable(t *testing.T) {
	m := newFundedMarket(t)
	m.mint(t, testUSDC, testLender, units(1_000))
	offerID, err := m.engine.CreateOffer(testLender, defaultOffer(units(500)))
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	risky, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(100))
	if err != nil {
		t.Fatalf("borrow risky: %v", err)
	}
	safe, err := m.engine.Borrow(testBorrower, offerID, units(3_000), units(100))
	if err != nil {
		t.Fatalf("borrow safe: %v", err)
	}
	risky2, err := m.engine.Borrow(testBorrower, offerID, units(1_000), units(99))
	if err != nil {
		t.Fatalf("borrow risky2: %v", err)
	}
	m.setPrice(12)

	got, err := m.engine.BatchCheckLiquidatable([]uint64{risky2, 999, safe, risky})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if !reflect.DeepEqual(got, []uint64{risky2, risky}) {
		t.Fatalf("unexpected liquidatable set: %v", got)
	}
}

func TestListOffers(t *testing.T) {
	m := newFundedMarket(t)
	mk := func(amount int64, rate uint32) uint64 {
		p := defaultOffer(units(amount))
		p.WeeklyInterestRate = rate
		id, err := m.engine.CreateOffer(testLender, p)
		if err != nil {
			t.Fatalf("create offer: %v", err)
		}
		m.advance(time.Minute)
		return id
	}
	a := mk(50, 300)
	b := mk(200, 100)
	c := mk(100, 300)
	drained := mk(10, 50)
	if err := m.engine.WithdrawFromOffer(testLender, drained, units(10)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	ids := func(offers []*Offer) []uint64 {
		out := make([]uint64, 0, len(offers))
		for _, o := range offers {
			out = append(out, o.ID)
		}
		return out
	}
	cases := []struct {
		sort SortOption
		want []uint64
	}{
		{SortBestRate, []uint64{b, a, c}},
		{SortHighestAmount, []uint64{b, c, a}},
		{SortNewest, []uint64{c, b, a}},
	}
	for _, tc := range cases {
		got, err := m.engine.ListOffers(tc.sort, 0, 10)
		if err != nil {
			t.Fatalf("%s: %v", tc.sort, err)
		}
		if !reflect.DeepEqual(ids(got), tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.sort, tc.want, ids(got))
		}
	}

	page, err := m.engine.ListOffers(SortBestRate, 1, 1)
	if err != nil || !reflect.DeepEqual(ids(page), []uint64{a}) {
		t.Fatalf("unexpected page %v (%v)", ids(page), err)
	}
	if _, err := m.engine.ListOffers(SortBestRate, 3, 10); !errors.Is(err, ErrNoOffersAvailable) {
		t.Fatalf("expected ErrNoOffersAvailable, got %v", err)
	}
	if _, err := m.engine.ListOffers(SortBestRate, 0, 0); !errors.Is(err, ErrInvalidPagination) {
		t.Fatalf("expected ErrInvalidPagination, got %v", err)
	}
	if _, err := m.engine.ListOffers("cheapest", 0, 10); !errors.Is(err, ErrInvalidSortOption) {
		t.Fatalf("expected ErrInvalidSortOption, got %v", err)
	}
}

func TestPortfolio(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)
	m.advance(7 * 24 * time.Hour)

	borrower, err := m.engine.Portfolio(testBorrower)
	if err != nil {
		t.Fatalf("borrower portfolio: %v", err)
	}
	expectAmount(t, "borrowed", borrower.TotalBorrowed, units(100))
	expectAmount(t, "owed", borrower.InterestOwed, units(5))
	expectAmount(t, "borrower net", borrower.NetPosition, units(-5))
	if borrower.BorrowerLoans != 1 || borrower.LenderLoans != 0 {
		t.Fatalf("unexpected borrower counts: %+v", borrower)
	}

	lender, err := m.engine.Portfolio(testLender)
	if err != nil {
		t.Fatalf("lender portfolio: %v", err)
	}
	expectAmount(t, "lent", lender.TotalLent, units(100))
	expectAmount(t, "earned", lender.InterestEarned, units(5))
	if lender.ActiveOffers != 1 || lender.LenderLoans != 1 {
		t.Fatalf("unexpected lender counts: %+v", lender)
	}
	expectAmount(t, "price", lender.CollateralPrice, big.NewInt(15_000_000_000_000))

	distance, err := m.engine.LiquidationDistance(loanID)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	// value 150, debt 105, threshold 125% => 150 - 131.25
	expectAmount(t, "distance", distance, big.NewInt(18_7500000))
}

func TestEventsEmittedAfterCommit(t *testing.T) {
	m := newFundedMarket(t)
	_, loanID := m.openLoan(t)
	m.setPrice(12)
	if _, err := m.engine.Liquidate(testLiquidator, loanID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	want := []string{
		events.TypeMarketInitialized,
		events.TypeOfferCreated,
		events.TypeLoanOpened,
		events.TypeLoanLiquidated,
	}
	if got := m.recorder.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: %v", got)
	}
	liquidated, ok := m.recorder.Events[3].(events.LoanLiquidated)
	if !ok {
		t.Fatalf("unexpected event type %T", m.recorder.Events[3])
	}
	attrs := liquidated.Event().Attributes
	if attrs["excess"] != units(14).String() || attrs["liquidator"] != testLiquidator {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}
