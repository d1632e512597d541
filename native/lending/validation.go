package lending

import "math/big"

// ValidateInterestRate requires 0 < rate <= maxRate.
func ValidateInterestRate(rate, maxRate uint32) error {
	if rate == 0 || rate > maxRate {
		return wrap(ErrInvalidInterestRate, "rate %d bps, max %d bps", rate, maxRate)
	}
	return nil
}

// ValidateCollateralRatio requires 10000 <= ratio <= ceiling.
func ValidateCollateralRatio(ratio, ceiling uint32) error {
	if ratio < BasisPoints || ratio > ceiling {
		return wrap(ErrInvalidCollateralRatio, "ratio %d bps", ratio)
	}
	return nil
}

// ValidateLiquidationThreshold requires 10000 <= threshold < minCollateralRatio.
func ValidateLiquidationThreshold(threshold, minCollateralRatio uint32) error {
	if threshold < BasisPoints || threshold >= minCollateralRatio {
		return wrap(ErrInvalidLiquidationThreshold, "threshold %d bps, min ratio %d bps", threshold, minCollateralRatio)
	}
	return nil
}

func validateOfferAmount(amount *big.Int) error {
	if !isPositive(amount) {
		return ErrInvalidOfferAmount
	}
	return nil
}

func validateBorrowAmount(amount *big.Int) error {
	if !isPositive(amount) {
		return ErrInvalidBorrowAmount
	}
	return nil
}

func validateCollateralAmount(amount *big.Int) error {
	if !isPositive(amount) {
		return ErrInvalidCollateralAmount
	}
	return nil
}

// ValidateRepayAmount requires 0 < amount <= totalDebt.
func ValidateRepayAmount(amount, totalDebt *big.Int) error {
	if !isPositive(amount) {
		return ErrInvalidRepayAmount
	}
	if amount.Cmp(totalDebt) > 0 {
		return wrap(ErrRepayExceedsDebt, "repay %s, debt %s", amount, totalDebt)
	}
	return nil
}

// ValidateLoanDuration requires 0 < weeks <= maxWeeks.
func ValidateLoanDuration(weeks, maxWeeks uint32) error {
	if weeks == 0 {
		return wrap(ErrInvalidInput, "duration must be at least one week")
	}
	if weeks > maxWeeks {
		return wrap(ErrLoanDurationExceeded, "%d weeks, max %d", weeks, maxWeeks)
	}
	return nil
}

// ValidatePagination requires 0 < limit <= maxLimit.
func ValidatePagination(limit, maxLimit uint32) error {
	if limit == 0 || limit > maxLimit {
		return wrap(ErrInvalidPagination, "limit %d", limit)
	}
	return nil
}

// MaxBorrow is the largest principal the collateral value supports at the
// given minimum collateral ratio: value * 10000 / minRatio.
func MaxBorrow(collateralValue *big.Int, minCollateralRatio uint32) (*big.Int, error) {
	v, err := u256(collateralValue)
	if err != nil {
		return nil, err
	}
	out, err := mulDiv(v, u64(uint64(BasisPoints)), u64(uint64(minCollateralRatio)))
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

func validateSufficientCollateral(o *priceOracle, collateral, borrow *big.Int, minCollateralRatio uint32) error {
	value, err := o.CollateralToDebt(collateral)
	if err != nil {
		return err
	}
	limit, err := MaxBorrow(value, minCollateralRatio)
	if err != nil {
		return err
	}
	if borrow.Cmp(limit) > 0 {
		return wrap(ErrInsufficientCollateral, "borrow %s exceeds limit %s", borrow, limit)
	}
	return nil
}

// validateCollateralWithdrawal rejects non-positive or excess withdrawals and
// any withdrawal leaving the ratio below threshold + safety margin.
func (e *Engine) validateCollateralWithdrawal(o *priceOracle, collateral, amount, totalDebt *big.Int, threshold uint32) error {
	if !isPositive(amount) {
		return wrap(ErrInvalidInput, "withdrawal must be positive")
	}
	if amount.Cmp(collateral) > 0 {
		return wrap(ErrInvalidInput, "withdrawal %s exceeds collateral %s", amount, collateral)
	}
	remaining, err := subBig(collateral, amount)
	if err != nil {
		return err
	}
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return nil
	}
	value, err := o.CollateralToDebt(remaining)
	if err != nil {
		return err
	}
	v, err := u256(value)
	if err != nil {
		return err
	}
	debt, err := u256(totalDebt)
	if err != nil {
		return err
	}
	ratio, err := mulDiv(v, u64(uint64(BasisPoints)), debt)
	if err != nil {
		return err
	}
	minSafe := uint64(threshold) + uint64(e.cfg.SafetyMarginBps)
	if ratio.Lt(u64(minSafe)) {
		return wrap(ErrWithdrawalBreachesHealth, "resulting ratio %s bps below %d bps", ratio, minSafe)
	}
	return nil
}
