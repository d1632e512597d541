package lending

import "math/big"

const (
	// BasisPoints is the fixed-point denominator for rates and ratios.
	BasisPoints uint32 = 10_000
	// SecondsPerWeek is the accrual period for weekly interest rates.
	SecondsPerWeek uint64 = 604_800

	// SentinelMax marks an unbounded ratio or health factor, e.g. a loan
	// without debt.
	SentinelMax uint32 = ^uint32(0)
)

// Offer is a lender's standing commitment to lend the debt asset.
type Offer struct {
	// ID is assigned monotonically starting at 1.
	ID     uint64 `json:"offer_id"`
	Lender string `json:"lender"`
	// USDCAmount is the remaining lendable principal (7 implied decimals).
	USDCAmount *big.Int `json:"usdc_amount"`
	// WeeklyInterestRate is expressed in basis points per week.
	WeeklyInterestRate uint32 `json:"weekly_interest_rate"`
	// MinCollateralRatio bounds origination, in basis points.
	MinCollateralRatio uint32 `json:"min_collateral_ratio"`
	// LiquidationThreshold is copied onto every loan drawn from the offer.
	LiquidationThreshold uint32 `json:"liquidation_threshold"`
	MaxDurationWeeks     uint32 `json:"max_duration_weeks"`
	Active               bool   `json:"is_active"`
	CreatedAt            uint64 `json:"created_at"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.USDCAmount = cloneInt(o.USDCAmount)
	return &clone
}

// Loan is an open or settled borrowing position drawn against an offer.
type Loan struct {
	ID       uint64 `json:"loan_id"`
	OfferID  uint64 `json:"offer_id"`
	Borrower string `json:"borrower"`
	// Lender is copied from the offer at origination.
	Lender string `json:"lender"`
	// CollateralAmount is held by the engine in the collateral asset.
	CollateralAmount *big.Int `json:"collateral_amount"`
	// BorrowedAmount is the outstanding principal.
	BorrowedAmount *big.Int `json:"borrowed_amount"`
	// InterestRate is fixed for the life of the loan, in weekly basis points.
	InterestRate       uint32 `json:"interest_rate"`
	StartTime          uint64 `json:"start_time"`
	LastInterestUpdate uint64 `json:"last_interest_update"`
	// AccumulatedInterest is interest capitalised at the last checkpoint
	// but not yet repaid.
	AccumulatedInterest  *big.Int `json:"accumulated_interest"`
	LiquidationThreshold uint32   `json:"liquidation_threshold"`
	Active               bool     `json:"is_active"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.CollateralAmount = cloneInt(l.CollateralAmount)
	clone.BorrowedAmount = cloneInt(l.BorrowedAmount)
	clone.AccumulatedInterest = cloneInt(l.AccumulatedInterest)
	return &clone
}

// LoanHealth is derived from live price and elapsed time on every read.
type LoanHealth struct {
	LoanID                 uint64   `json:"loan_id"`
	CollateralValueUSD     *big.Int `json:"collateral_value_usd"`
	DebtValueUSD           *big.Int `json:"debt_value_usd"`
	CollateralizationRatio uint32   `json:"collateralization_ratio"`
	LiquidationPrice       *big.Int `json:"liquidation_price"`
	HealthFactor           uint32   `json:"health_factor"`
	Liquidatable           bool     `json:"is_liquidatable"`
}

// PriceQuote is an external price observation for the collateral asset
// denominated in the debt asset.
type PriceQuote struct {
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
}

// MarketConfig is the persisted, admin-controlled configuration record.
type MarketConfig struct {
	Admin           string
	USDCToken       string
	XLMToken        string
	Oracle          string
	MaxInterestRate uint32
	Paused          bool
}

// IsPaused satisfies common.PauseView for the engine's own module.
func (c *MarketConfig) IsPaused(string) bool { return c != nil && c.Paused }

// SortOption orders offer listings.
type SortOption string

const (
	SortBestRate      SortOption = "best_rate"
	SortHighestAmount SortOption = "highest_amount"
	SortNewest        SortOption = "newest"
)

// ParseSortOption validates a user supplied sort key. An empty key selects
// SortBestRate.
func ParseSortOption(raw string) (SortOption, error) {
	switch SortOption(raw) {
	case "", SortBestRate:
		return SortBestRate, nil
	case SortHighestAmount:
		return SortHighestAmount, nil
	case SortNewest:
		return SortNewest, nil
	default:
		return "", wrap(ErrInvalidSortOption, "%q", raw)
	}
}

// HealthStatus buckets a health factor for display.
type HealthStatus string

const (
	HealthSafe    HealthStatus = "safe"
	HealthCaution HealthStatus = "caution"
	HealthDanger  HealthStatus = "danger"
)

// Portfolio aggregates a user's positions on both sides of the market.
type Portfolio struct {
	User            string   `json:"user"`
	TotalBorrowed   *big.Int `json:"total_borrowed"`
	InterestOwed    *big.Int `json:"interest_owed"`
	BorrowerLoans   int      `json:"borrower_loans"`
	TotalLent       *big.Int `json:"total_lent"`
	InterestEarned  *big.Int `json:"interest_earned"`
	LenderLoans     int      `json:"lender_loans"`
	ActiveOffers    int      `json:"active_offers"`
	NetPosition     *big.Int `json:"net_position"`
	CollateralPrice *big.Int `json:"collateral_price,omitempty"`
}
