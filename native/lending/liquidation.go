package lending

import (
	"math/big"

	"p2plend/core/events"
)

// Settlement is the value distribution of a liquidation, in the debt asset.
// CollateralValue always equals DebtRepaid + Bonus + Excess. The bonus is
// capped at the value left over after the debt.
type Settlement struct {
	LoanID          uint64
	Collateral      *big.Int
	CollateralValue *big.Int
	DebtRepaid      *big.Int
	Bonus           *big.Int
	Excess          *big.Int
}

// LiquidationBonus is value*bonusBps/10000.
func LiquidationBonus(collateralValue *big.Int, bonusBps uint32) (*big.Int, error) {
	v, err := u256(collateralValue)
	if err != nil {
		return nil, err
	}
	bonus, err := mulDiv(v, u64(uint64(bonusBps)), u64(uint64(BasisPoints)))
	if err != nil {
		return nil, err
	}
	return bonus.ToBig(), nil
}

// PlanSettlement computes the distribution for liquidating collateral worth
// collateralValue against totalDebt. A value below the debt fails with
// ErrInsufficientCollateralValue.
func PlanSettlement(collateralValue, totalDebt *big.Int, bonusBps uint32) (*Settlement, error) {
	collateralValue, totalDebt = cloneInt(collateralValue), cloneInt(totalDebt)
	if collateralValue.Cmp(totalDebt) < 0 {
		return nil, wrap(ErrInsufficientCollateralValue, "value %s, debt %s", formatAmount(collateralValue), formatAmount(totalDebt))
	}
	bonus, err := LiquidationBonus(collateralValue, bonusBps)
	if err != nil {
		return nil, err
	}
	surplus, err := subBig(collateralValue, totalDebt)
	if err != nil {
		return nil, err
	}
	if bonus.Cmp(surplus) > 0 {
		bonus = cloneInt(surplus)
	}
	excess, err := subBig(surplus, bonus)
	if err != nil {
		return nil, err
	}
	return &Settlement{
		CollateralValue: collateralValue,
		DebtRepaid:      totalDebt,
		Bonus:           bonus,
		Excess:          excess,
	}, nil
}

// executeLiquidation settles an undercollateralised loan. The liquidator
// receives the whole collateral, pays the full debt to the lender and pays
// any value above debt plus bonus to the borrower.
func (tx *txn) executeLiquidation(loan *Loan) (*Settlement, error) {
	if !loan.Active {
		return nil, ErrLoanNotActive
	}
	o, err := tx.priceOracle()
	if err != nil {
		return nil, err
	}
	ok, err := isLiquidatable(loan, o, tx.now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotLiquidatable
	}
	totalDebt, err := LoanTotalDebt(loan, tx.now)
	if err != nil {
		return nil, err
	}
	value, err := o.CollateralToDebt(loan.CollateralAmount)
	if err != nil {
		return nil, err
	}
	plan, err := PlanSettlement(value, totalDebt, tx.engine.cfg.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}
	plan.LoanID = loan.ID
	plan.Collateral = cloneInt(loan.CollateralAmount)

	usdc, err := tx.usdc()
	if err != nil {
		return nil, err
	}
	xlm, err := tx.xlm()
	if err != nil {
		return nil, err
	}
	if err := tx.transfer(xlm, tx.engine.escrow, tx.caller, loan.CollateralAmount); err != nil {
		return nil, err
	}
	if err := tx.transfer(usdc, tx.caller, loan.Lender, plan.DebtRepaid); err != nil {
		return nil, err
	}
	if err := tx.transfer(usdc, tx.caller, loan.Borrower, plan.Excess); err != nil {
		return nil, err
	}
	return plan, nil
}

// Liquidate closes an undercollateralised loan. Anyone may call it; the
// caller acts as liquidator and must hold enough of the debt asset to repay
// the lender. Liquidation is all or nothing.
func (e *Engine) Liquidate(liquidator string, loanID uint64) (*Settlement, error) {
	var result *Settlement
	err := e.executePriced("liquidate", liquidator, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		loan, err := tx.loadLoan(loanID)
		if err != nil {
			return err
		}
		plan, err := tx.executeLiquidation(loan)
		if err != nil {
			return err
		}
		loan.Active = false
		if err := tx.state.PutLoan(loan); err != nil {
			return err
		}
		if err := removeFromIndex(tx.state, indexActiveLoans, "", loanID); err != nil {
			return err
		}
		tx.emit(events.LoanLiquidated{
			LoanID:          loanID,
			Liquidator:      tx.caller,
			Borrower:        loan.Borrower,
			Lender:          loan.Lender,
			Collateral:      cloneInt(plan.Collateral),
			CollateralValue: cloneInt(plan.CollateralValue),
			DebtRepaid:      cloneInt(plan.DebtRepaid),
			Bonus:           cloneInt(plan.Bonus),
			Excess:          cloneInt(plan.Excess),
		})
		result = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
