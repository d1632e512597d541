package lending

import (
	"math"
	"math/big"
)

// AccrueInterest returns the simple interest owed on principal at a weekly
// rate (basis points) between from and to (unix seconds):
//
//	principal * rateBps * elapsed / 10000 / 604800
//
// Multiplication happens before division and every step is checked.
func AccrueInterest(principal *big.Int, rateBps uint32, from, to uint64) (*big.Int, error) {
	if to < from {
		return nil, wrap(ErrInvalidInput, "interval ends before it starts")
	}
	elapsed := to - from
	if elapsed == 0 {
		return big.NewInt(0), nil
	}
	p, err := u256(principal)
	if err != nil {
		return nil, err
	}
	acc, err := checkedMul(p, u64(uint64(rateBps)))
	if err != nil {
		return nil, err
	}
	if acc, err = checkedMul(acc, u64(elapsed)); err != nil {
		return nil, err
	}
	if acc, err = checkedDiv(acc, u64(uint64(BasisPoints))); err != nil {
		return nil, err
	}
	if acc, err = checkedDiv(acc, u64(SecondsPerWeek)); err != nil {
		return nil, err
	}
	return acc.ToBig(), nil
}

// TotalDebt is principal + accumulated + interest accrued since lastUpdate.
func TotalDebt(principal, accumulated *big.Int, rateBps uint32, lastUpdate, now uint64) (*big.Int, error) {
	interest, err := AccrueInterest(principal, rateBps, lastUpdate, now)
	if err != nil {
		return nil, err
	}
	sum, err := addBig(principal, accumulated)
	if err != nil {
		return nil, err
	}
	return addBig(sum, interest)
}

// LoanTotalDebt evaluates TotalDebt for a loan at now.
func LoanTotalDebt(loan *Loan, now uint64) (*big.Int, error) {
	return TotalDebt(loan.BorrowedAmount, loan.AccumulatedInterest, loan.InterestRate, loan.LastInterestUpdate, now)
}

// OutstandingInterest is the accumulated interest plus interest accrued
// since the last checkpoint.
func OutstandingInterest(loan *Loan, now uint64) (*big.Int, error) {
	fresh, err := AccrueInterest(loan.BorrowedAmount, loan.InterestRate, loan.LastInterestUpdate, now)
	if err != nil {
		return nil, err
	}
	return addBig(loan.AccumulatedInterest, fresh)
}

// CalculateAPY approximates the annual rate of a weekly rate as rate*52,
// saturating at the u32 range. Display only.
func CalculateAPY(weeklyRateBps uint32) uint32 {
	apy := uint64(weeklyRateBps) * 52
	if apy > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(apy)
}

// InterestForPeriod returns the interest owed on principal over whole weeks.
func InterestForPeriod(principal *big.Int, weeklyRateBps uint32, weeks uint32) (*big.Int, error) {
	seconds := uint64(weeks) * SecondsPerWeek
	return AccrueInterest(principal, weeklyRateBps, 0, seconds)
}
