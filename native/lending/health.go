package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

// CollateralizationRatio is value*10000/debt in basis points, clamped to the
// u32 range. Zero debt yields SentinelMax.
func CollateralizationRatio(collateralValue, totalDebt *big.Int) (uint32, error) {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return SentinelMax, nil
	}
	v, err := u256(collateralValue)
	if err != nil {
		return 0, err
	}
	d, err := u256(totalDebt)
	if err != nil {
		return 0, err
	}
	ratio, err := mulDiv(v, u64(uint64(BasisPoints)), d)
	if err != nil {
		return 0, err
	}
	return clampU32(ratio), nil
}

// HealthFactor is ratio*10000/threshold in basis points; 10000 means the
// position sits exactly at its threshold. A zero threshold yields SentinelMax.
func HealthFactor(ratio, thresholdBps uint32) uint32 {
	if thresholdBps == 0 {
		return SentinelMax
	}
	factor := new(uint256.Int).Mul(u64(uint64(ratio)), u64(uint64(BasisPoints)))
	factor.Div(factor, u64(uint64(thresholdBps)))
	return clampU32(factor)
}

// ClassifyHealth buckets a health factor: safe above 150%, caution above
// 125%, danger otherwise.
func ClassifyHealth(healthFactor uint32) HealthStatus {
	switch {
	case healthFactor > 15_000:
		return HealthSafe
	case healthFactor > 12_500:
		return HealthCaution
	default:
		return HealthDanger
	}
}

// computeHealth derives the loan's live health from the oracle and clock.
func computeHealth(loan *Loan, o *priceOracle, now uint64) (*LoanHealth, error) {
	debt, err := LoanTotalDebt(loan, now)
	if err != nil {
		return nil, err
	}
	value, err := o.CollateralToDebt(loan.CollateralAmount)
	if err != nil {
		return nil, err
	}
	ratio, err := CollateralizationRatio(value, debt)
	if err != nil {
		return nil, err
	}
	liqPrice, err := LiquidationPrice(debt, loan.CollateralAmount, loan.LiquidationThreshold, o.decimals())
	if err != nil {
		return nil, err
	}
	return &LoanHealth{
		LoanID:                 loan.ID,
		CollateralValueUSD:     value,
		DebtValueUSD:           debt,
		CollateralizationRatio: ratio,
		LiquidationPrice:       liqPrice,
		HealthFactor:           HealthFactor(ratio, loan.LiquidationThreshold),
		Liquidatable:           loan.Active && ratio <= loan.LiquidationThreshold,
	}, nil
}

// isLiquidatable never reports an inactive loan and never touches the oracle
// for one.
func isLiquidatable(loan *Loan, o *priceOracle, now uint64) (bool, error) {
	if !loan.Active {
		return false, nil
	}
	health, err := computeHealth(loan, o, now)
	if err != nil {
		return false, err
	}
	return health.Liquidatable, nil
}

// LiquidationDistance is the collateral value in excess of the value at
// which the loan hits its threshold. Negative means liquidatable.
func LiquidationDistance(health *LoanHealth, thresholdBps uint32) *big.Int {
	required := new(big.Int).Mul(health.DebtValueUSD, big.NewInt(int64(thresholdBps)))
	required.Quo(required, big.NewInt(int64(BasisPoints)))
	return new(big.Int).Sub(health.CollateralValueUSD, required)
}
