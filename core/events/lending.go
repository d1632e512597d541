package events

import (
	"math/big"
	"strconv"

	"p2plend/core/types"
)

const (
	TypeMarketInitialized   = "lending.market.initialized"
	TypeMarketParamsUpdated = "lending.market.updated"
	TypeMarketPaused        = "lending.market.paused"
	TypeMarketUnpaused      = "lending.market.unpaused"
	TypeOfferCreated        = "lending.offer.created"
	TypeOfferCancelled      = "lending.offer.cancelled"
	TypeOfferWithdrawn      = "lending.offer.withdrawn"
	TypeLoanOpened          = "lending.loan.opened"
	TypeLoanRepaid          = "lending.loan.repaid"
	TypeLoanClosed          = "lending.loan.closed"
	TypeCollateralAdded     = "lending.collateral.added"
	TypeCollateralWithdrawn = "lending.collateral.withdrawn"
	TypeLoanLiquidated      = "lending.loan.liquidated"
)

// MarketInitialized is emitted once when the market configuration is stored.
type MarketInitialized struct {
	Admin           string
	USDCToken       string
	XLMToken        string
	Oracle          string
	MaxInterestRate uint32
}

func (MarketInitialized) EventType() string { return TypeMarketInitialized }

func (e MarketInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketInitialized,
		Attributes: map[string]string{
			"admin":           e.Admin,
			"usdcToken":       e.USDCToken,
			"xlmToken":        e.XLMToken,
			"oracle":          e.Oracle,
			"maxInterestRate": uintToString(uint64(e.MaxInterestRate)),
		},
	}
}

// MarketParamsUpdated records an admin change to a single parameter.
type MarketParamsUpdated struct {
	Admin string
	Field string
	Value string
}

func (MarketParamsUpdated) EventType() string { return TypeMarketParamsUpdated }

func (e MarketParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketParamsUpdated,
		Attributes: map[string]string{
			"admin": e.Admin,
			"field": e.Field,
			"value": e.Value,
		},
	}
}

// MarketPauseToggled is emitted for both pause and unpause.
type MarketPauseToggled struct {
	Admin  string
	Paused bool
}

func (e MarketPauseToggled) EventType() string {
	if e.Paused {
		return TypeMarketPaused
	}
	return TypeMarketUnpaused
}

func (e MarketPauseToggled) Event() *types.Event {
	return &types.Event{
		Type:       e.EventType(),
		Attributes: map[string]string{"admin": e.Admin},
	}
}

type OfferCreated struct {
	OfferID              uint64
	Lender               string
	Amount               *big.Int
	WeeklyInterestRate   uint32
	MinCollateralRatio   uint32
	LiquidationThreshold uint32
	MaxDurationWeeks     uint32
}

func (OfferCreated) EventType() string { return TypeOfferCreated }

func (e OfferCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCreated,
		Attributes: map[string]string{
			"offerId":              uintToString(e.OfferID),
			"lender":               e.Lender,
			"amount":               formatAmount(e.Amount),
			"weeklyInterestRate":   uintToString(uint64(e.WeeklyInterestRate)),
			"minCollateralRatio":   uintToString(uint64(e.MinCollateralRatio)),
			"liquidationThreshold": uintToString(uint64(e.LiquidationThreshold)),
			"maxDurationWeeks":     uintToString(uint64(e.MaxDurationWeeks)),
		},
	}
}

type OfferCancelled struct {
	OfferID  uint64
	Lender   string
	Refunded *big.Int
}

func (OfferCancelled) EventType() string { return TypeOfferCancelled }

func (e OfferCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCancelled,
		Attributes: map[string]string{
			"offerId":  uintToString(e.OfferID),
			"lender":   e.Lender,
			"refunded": formatAmount(e.Refunded),
		},
	}
}

type OfferWithdrawn struct {
	OfferID   uint64
	Lender    string
	Amount    *big.Int
	Remaining *big.Int
}

func (OfferWithdrawn) EventType() string { return TypeOfferWithdrawn }

func (e OfferWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferWithdrawn,
		Attributes: map[string]string{
			"offerId":   uintToString(e.OfferID),
			"lender":    e.Lender,
			"amount":    formatAmount(e.Amount),
			"remaining": formatAmount(e.Remaining),
		},
	}
}

type LoanOpened struct {
	LoanID     uint64
	OfferID    uint64
	Borrower   string
	Lender     string
	Collateral *big.Int
	Principal  *big.Int
	Rate       uint32
}

func (LoanOpened) EventType() string { return TypeLoanOpened }

func (e LoanOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanOpened,
		Attributes: map[string]string{
			"loanId":     uintToString(e.LoanID),
			"offerId":    uintToString(e.OfferID),
			"borrower":   e.Borrower,
			"lender":     e.Lender,
			"collateral": formatAmount(e.Collateral),
			"principal":  formatAmount(e.Principal),
			"rate":       uintToString(uint64(e.Rate)),
		},
	}
}

type LoanRepaid struct {
	LoanID        uint64
	Borrower      string
	Lender        string
	Amount        *big.Int
	InterestPaid  *big.Int
	PrincipalPaid *big.Int
	RemainingDebt *big.Int
}

func (LoanRepaid) EventType() string { return TypeLoanRepaid }

func (e LoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRepaid,
		Attributes: map[string]string{
			"loanId":        uintToString(e.LoanID),
			"borrower":      e.Borrower,
			"lender":        e.Lender,
			"amount":        formatAmount(e.Amount),
			"interestPaid":  formatAmount(e.InterestPaid),
			"principalPaid": formatAmount(e.PrincipalPaid),
			"remainingDebt": formatAmount(e.RemainingDebt),
		},
	}
}

// LoanClosed marks full repayment and collateral release.
type LoanClosed struct {
	LoanID             uint64
	Borrower           string
	CollateralReturned *big.Int
}

func (LoanClosed) EventType() string { return TypeLoanClosed }

func (e LoanClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanClosed,
		Attributes: map[string]string{
			"loanId":             uintToString(e.LoanID),
			"borrower":           e.Borrower,
			"collateralReturned": formatAmount(e.CollateralReturned),
		},
	}
}

type CollateralAdjusted struct {
	LoanID   uint64
	Borrower string
	Delta    *big.Int
	Total    *big.Int
	Added    bool
}

func (e CollateralAdjusted) EventType() string {
	if e.Added {
		return TypeCollateralAdded
	}
	return TypeCollateralWithdrawn
}

func (e CollateralAdjusted) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"loanId":   uintToString(e.LoanID),
			"borrower": e.Borrower,
			"amount":   formatAmount(e.Delta),
			"total":    formatAmount(e.Total),
		},
	}
}

type LoanLiquidated struct {
	LoanID          uint64
	Liquidator      string
	Borrower        string
	Lender          string
	Collateral      *big.Int
	CollateralValue *big.Int
	DebtRepaid      *big.Int
	Bonus           *big.Int
	Excess          *big.Int
}

func (LoanLiquidated) EventType() string { return TypeLoanLiquidated }

func (e LoanLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanLiquidated,
		Attributes: map[string]string{
			"loanId":          uintToString(e.LoanID),
			"liquidator":      e.Liquidator,
			"borrower":        e.Borrower,
			"lender":          e.Lender,
			"collateral":      formatAmount(e.Collateral),
			"collateralValue": formatAmount(e.CollateralValue),
			"debtRepaid":      formatAmount(e.DebtRepaid),
			"bonus":           formatAmount(e.Bonus),
			"excess":          formatAmount(e.Excess),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
