package server

import (
	"fmt"
	"math/big"
	"strings"

	"p2plend/native/lending"
)

// Amounts travel as base-unit integer strings so clients never lose
// precision on values above 2^53.

type initializeRequest struct {
	USDCToken       string `json:"usdcToken"`
	XLMToken        string `json:"xlmToken"`
	Oracle          string `json:"oracle"`
	MaxInterestRate uint32 `json:"maxInterestRate"`
}

type maxRateRequest struct {
	MaxInterestRate uint32 `json:"maxInterestRate"`
}

type oracleRequest struct {
	Oracle string `json:"oracle"`
}

type createOfferRequest struct {
	Amount               string `json:"amount"`
	WeeklyInterestRate   uint32 `json:"weeklyInterestRate"`
	MinCollateralRatio   uint32 `json:"minCollateralRatio"`
	LiquidationThreshold uint32 `json:"liquidationThreshold"`
	MaxDurationWeeks     uint32 `json:"maxDurationWeeks"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type borrowRequest struct {
	OfferID          uint64 `json:"offerId"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowAmount     string `json:"borrowAmount"`
}

type batchRequest struct {
	LoanIDs []uint64 `json:"loanIds"`
}

type faucetRequest struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type priceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type idResponse struct {
	OfferID uint64 `json:"offerId,omitempty"`
	LoanID  uint64 `json:"loanId,omitempty"`
}

type marketDTO struct {
	Admin           string `json:"admin"`
	USDCToken       string `json:"usdcToken"`
	XLMToken        string `json:"xlmToken"`
	Oracle          string `json:"oracle"`
	MaxInterestRate uint32 `json:"maxInterestRate"`
	Paused          bool   `json:"paused"`
	EscrowAccount   string `json:"escrowAccount"`
}

type offerDTO struct {
	OfferID              uint64 `json:"offerId"`
	Lender               string `json:"lender"`
	USDCAmount           string `json:"usdcAmount"`
	WeeklyInterestRate   uint32 `json:"weeklyInterestRate"`
	APY                  uint32 `json:"apy"`
	MinCollateralRatio   uint32 `json:"minCollateralRatio"`
	LiquidationThreshold uint32 `json:"liquidationThreshold"`
	MaxDurationWeeks     uint32 `json:"maxDurationWeeks"`
	Active               bool   `json:"active"`
	CreatedAt            uint64 `json:"createdAt"`
}

func newOfferDTO(o *lending.Offer) offerDTO {
	return offerDTO{
		OfferID:              o.ID,
		Lender:               o.Lender,
		USDCAmount:           amountString(o.USDCAmount),
		WeeklyInterestRate:   o.WeeklyInterestRate,
		APY:                  lending.CalculateAPY(o.WeeklyInterestRate),
		MinCollateralRatio:   o.MinCollateralRatio,
		LiquidationThreshold: o.LiquidationThreshold,
		MaxDurationWeeks:     o.MaxDurationWeeks,
		Active:               o.Active,
		CreatedAt:            o.CreatedAt,
	}
}

type loanDTO struct {
	LoanID               uint64 `json:"loanId"`
	OfferID              uint64 `json:"offerId"`
	Borrower             string `json:"borrower"`
	Lender               string `json:"lender"`
	CollateralAmount     string `json:"collateralAmount"`
	BorrowedAmount       string `json:"borrowedAmount"`
	InterestRate         uint32 `json:"interestRate"`
	StartTime            uint64 `json:"startTime"`
	LastInterestUpdate   uint64 `json:"lastInterestUpdate"`
	AccumulatedInterest  string `json:"accumulatedInterest"`
	LiquidationThreshold uint32 `json:"liquidationThreshold"`
	Active               bool   `json:"active"`
}

func newLoanDTO(l *lending.Loan) loanDTO {
	return loanDTO{
		LoanID:               l.ID,
		OfferID:              l.OfferID,
		Borrower:             l.Borrower,
		Lender:               l.Lender,
		CollateralAmount:     amountString(l.CollateralAmount),
		BorrowedAmount:       amountString(l.BorrowedAmount),
		InterestRate:         l.InterestRate,
		StartTime:            l.StartTime,
		LastInterestUpdate:   l.LastInterestUpdate,
		AccumulatedInterest:  amountString(l.AccumulatedInterest),
		LiquidationThreshold: l.LiquidationThreshold,
		Active:               l.Active,
	}
}

type healthDTO struct {
	LoanID                 uint64 `json:"loanId"`
	CollateralValue        string `json:"collateralValue"`
	DebtValue              string `json:"debtValue"`
	CollateralizationRatio uint32 `json:"collateralizationRatio"`
	LiquidationPrice       string `json:"liquidationPrice"`
	HealthFactor           uint32 `json:"healthFactor"`
	Status                 string `json:"status"`
	Liquidatable           bool   `json:"liquidatable"`
	LiquidationDistance    string `json:"liquidationDistance,omitempty"`
}

func newHealthDTO(h *lending.LoanHealth, distance *big.Int) healthDTO {
	out := healthDTO{
		LoanID:                 h.LoanID,
		CollateralValue:        amountString(h.CollateralValueUSD),
		DebtValue:              amountString(h.DebtValueUSD),
		CollateralizationRatio: h.CollateralizationRatio,
		LiquidationPrice:       amountString(h.LiquidationPrice),
		HealthFactor:           h.HealthFactor,
		Status:                 string(lending.ClassifyHealth(h.HealthFactor)),
		Liquidatable:           h.Liquidatable,
	}
	if distance != nil {
		out.LiquidationDistance = distance.String()
	}
	return out
}

type settlementDTO struct {
	LoanID          uint64 `json:"loanId"`
	Collateral      string `json:"collateral"`
	CollateralValue string `json:"collateralValue"`
	DebtRepaid      string `json:"debtRepaid"`
	Bonus           string `json:"bonus"`
	Excess          string `json:"excess"`
}

func newSettlementDTO(s *lending.Settlement) settlementDTO {
	return settlementDTO{
		LoanID:          s.LoanID,
		Collateral:      amountString(s.Collateral),
		CollateralValue: amountString(s.CollateralValue),
		DebtRepaid:      amountString(s.DebtRepaid),
		Bonus:           amountString(s.Bonus),
		Excess:          amountString(s.Excess),
	}
}

type portfolioDTO struct {
	User            string `json:"user"`
	TotalBorrowed   string `json:"totalBorrowed"`
	InterestOwed    string `json:"interestOwed"`
	BorrowerLoans   int    `json:"borrowerLoans"`
	TotalLent       string `json:"totalLent"`
	InterestEarned  string `json:"interestEarned"`
	LenderLoans     int    `json:"lenderLoans"`
	ActiveOffers    int    `json:"activeOffers"`
	NetPosition     string `json:"netPosition"`
	CollateralPrice string `json:"collateralPrice,omitempty"`
}

func newPortfolioDTO(p *lending.Portfolio) portfolioDTO {
	out := portfolioDTO{
		User:           p.User,
		TotalBorrowed:  amountString(p.TotalBorrowed),
		InterestOwed:   amountString(p.InterestOwed),
		BorrowerLoans:  p.BorrowerLoans,
		TotalLent:      amountString(p.TotalLent),
		InterestEarned: amountString(p.InterestEarned),
		LenderLoans:    p.LenderLoans,
		ActiveOffers:   p.ActiveOffers,
		NetPosition:    amountString(p.NetPosition),
	}
	if p.CollateralPrice != nil {
		out.CollateralPrice = p.CollateralPrice.String()
	}
	return out
}

type priceDTO struct {
	Price     string `json:"price"`
	Timestamp uint64 `json:"timestamp"`
}

type userLoansDTO struct {
	Borrower []uint64 `json:"borrower"`
	Lender   []uint64 `json:"lender"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseAmount accepts a non-negative base-10 integer string. Zero is passed
// through so the engine reports its own positivity error.
func parseAmount(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return v, nil
}
