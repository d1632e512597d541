package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"p2plend/native/bank"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string        `json:"error"`
	Code  *lending.Code `json:"code,omitempty"`
}

// statusFor maps engine failure codes onto HTTP status codes.
func statusFor(code lending.Code) int {
	switch code {
	case lending.ErrUnauthorized.Code:
		return http.StatusUnauthorized
	case lending.ErrOnlyAdmin.Code, lending.ErrOnlyLender.Code, lending.ErrOnlyBorrower.Code:
		return http.StatusForbidden
	case lending.ErrOfferNotFound.Code, lending.ErrLoanNotFound.Code,
		lending.ErrNoOffersAvailable.Code, lending.ErrNoLoansFound.Code:
		return http.StatusNotFound
	case lending.ErrInvalidInterestRate.Code, lending.ErrInvalidCollateralRatio.Code,
		lending.ErrInvalidLiquidationThreshold.Code, lending.ErrInvalidOfferAmount.Code,
		lending.ErrInvalidBorrowAmount.Code, lending.ErrInvalidCollateralAmount.Code,
		lending.ErrInvalidRepayAmount.Code, lending.ErrRepayExceedsDebt.Code,
		lending.ErrLoanDurationExceeded.Code, lending.ErrInvalidInput.Code,
		lending.ErrInvalidSortOption.Code, lending.ErrInvalidPagination.Code,
		lending.ErrArithmeticOverflow.Code, lending.ErrArithmeticUnderflow.Code,
		lending.ErrDivisionByZero.Code:
		return http.StatusBadRequest
	case lending.ErrContractPaused.Code, lending.ErrOracleNotSet.Code,
		lending.ErrPriceNotAvailable.Code, lending.ErrStalePriceData.Code:
		return http.StatusServiceUnavailable
	case lending.ErrInvalidPriceData.Code:
		return http.StatusBadGateway
	case lending.ErrTokenTransferFailed.Code, lending.ErrLiquidationSwapFailed.Code:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeCoded(w http.ResponseWriter, status int, code lending.Code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: &code})
}

// writeError renders err. Uncoded errors are logged and hidden behind a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := lending.CodeOf(err); ok {
		writeCoded(w, statusFor(code), code, err.Error())
		return
	}
	switch {
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaUnitsExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		writeMessage(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, bank.ErrInvalidAsset), errors.Is(err, bank.ErrInvalidAccount),
		errors.Is(err, bank.ErrInvalidAmount):
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, err.Error())
		return
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal error")
}
