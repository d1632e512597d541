package lending

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier of a lending failure. Codes are
// grouped by the hundreds: lifecycle, auth, offers, loans, liquidation,
// oracle, tokens, state and queries.
type Code uint32

// Error is a coded lending failure. Errors compare equal under errors.Is when
// their codes match, so wrapped copies still match the exported sentinels.
type Error struct {
	Code Code
	msg  string
}

func newError(code Code, msg string) *Error { return &Error{Code: code, msg: msg} }

func (e *Error) Error() string { return "lending engine: " + e.msg }

// Is reports code equality.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

var (
	ErrAlreadyInitialized = newError(1, "already initialized")
	ErrNotInitialized     = newError(2, "not initialized")

	ErrUnauthorized = newError(10, "unauthorized")
	ErrOnlyAdmin    = newError(11, "caller is not the admin")
	ErrOnlyLender   = newError(12, "caller is not the lender")
	ErrOnlyBorrower = newError(13, "caller is not the borrower")

	ErrOfferNotFound               = newError(20, "offer not found")
	ErrOfferNotActive              = newError(21, "offer not active")
	ErrInvalidInterestRate         = newError(22, "invalid interest rate")
	ErrInvalidCollateralRatio      = newError(23, "invalid collateral ratio")
	ErrInvalidLiquidationThreshold = newError(24, "invalid liquidation threshold")
	ErrInvalidOfferAmount          = newError(25, "offer amount must be positive")
	ErrTooManyOffers               = newError(26, "too many offers")
	ErrInsufficientOfferFunds      = newError(27, "insufficient offer funds")
	ErrOfferHasActiveLoans         = newError(28, "offer has active loans")

	ErrLoanNotFound             = newError(40, "loan not found")
	ErrLoanNotActive            = newError(41, "loan not active")
	ErrInvalidBorrowAmount      = newError(42, "borrow amount must be positive")
	ErrInvalidCollateralAmount  = newError(43, "collateral amount must be positive")
	ErrInsufficientCollateral   = newError(44, "insufficient collateral")
	ErrTooManyLoans             = newError(45, "too many loans")
	ErrInvalidRepayAmount       = newError(46, "repay amount must be positive")
	ErrRepayExceedsDebt         = newError(47, "repay amount exceeds debt")
	ErrWithdrawalBreachesHealth = newError(48, "withdrawal breaches health margin")
	ErrLoanDurationExceeded     = newError(49, "loan duration exceeded")

	ErrNotLiquidatable             = newError(60, "loan not liquidatable")
	ErrAlreadyLiquidated           = newError(61, "loan already liquidated")
	ErrLiquidationSwapFailed       = newError(62, "liquidation swap failed")
	ErrInsufficientCollateralValue = newError(63, "collateral value below debt")

	ErrOracleNotSet      = newError(80, "oracle not set")
	ErrPriceNotAvailable = newError(81, "price not available")
	ErrStalePriceData    = newError(82, "stale price data")
	ErrInvalidPriceData  = newError(83, "invalid price data")

	ErrUsdcTokenNotSet     = newError(100, "usdc token not set")
	ErrXlmTokenNotSet      = newError(101, "xlm token not set")
	ErrTokenTransferFailed = newError(102, "token transfer failed")
	ErrInsufficientBalance = newError(103, "insufficient balance")

	ErrContractPaused      = newError(120, "contract paused")
	ErrReentrant           = newError(121, "reentrant call")
	ErrInvalidInput        = newError(122, "invalid input")
	ErrArithmeticOverflow  = newError(123, "arithmetic overflow")
	ErrArithmeticUnderflow = newError(124, "arithmetic underflow")
	ErrDivisionByZero      = newError(125, "division by zero")

	ErrInvalidSortOption = newError(140, "invalid sort option")
	ErrInvalidPagination = newError(141, "invalid pagination")
	ErrNoOffersAvailable = newError(142, "no offers available")
	ErrNoLoansFound      = newError(143, "no loans found")
)

// CodeOf extracts the failure code from err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// wrap annotates a coded error while keeping it matchable with errors.Is.
func wrap(err *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}
