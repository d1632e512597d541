package lending

import (
	"math/big"

	"p2plend/core/events"
)

// Borrow draws borrowAmount of the debt asset from an offer against
// collateralAmount of the collateral asset. It returns the new loan id.
func (e *Engine) Borrow(borrower string, offerID uint64, collateralAmount, borrowAmount *big.Int) (uint64, error) {
	var loanID uint64
	err := e.executePriced("borrow", borrower, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		offer, err := tx.loadOffer(offerID)
		if err != nil {
			return err
		}
		if !offer.Active {
			return ErrOfferNotActive
		}
		if cloneInt(borrowAmount).Cmp(offer.USDCAmount) > 0 {
			return wrap(ErrInsufficientOfferFunds, "requested %s, available %s", formatAmount(borrowAmount), offer.USDCAmount)
		}
		if err := validateCollateralAmount(collateralAmount); err != nil {
			return err
		}
		if err := validateBorrowAmount(borrowAmount); err != nil {
			return err
		}
		owned, err := tx.state.GetIndex(indexBorrowerLoans, tx.caller)
		if err != nil {
			return err
		}
		if len(owned) >= e.cfg.MaxLoansPerUser {
			return wrap(ErrTooManyLoans, "%d loans, cap %d", len(owned), e.cfg.MaxLoansPerUser)
		}
		o, err := tx.priceOracle()
		if err != nil {
			return err
		}
		if err := validateSufficientCollateral(o, collateralAmount, borrowAmount, offer.MinCollateralRatio); err != nil {
			return err
		}

		xlm, err := tx.xlm()
		if err != nil {
			return err
		}
		usdc, err := tx.usdc()
		if err != nil {
			return err
		}
		if err := tx.transfer(xlm, tx.caller, e.escrow, collateralAmount); err != nil {
			return err
		}

		id, err := tx.state.NextLoanID()
		if err != nil {
			return err
		}
		loan := &Loan{
			ID:                   id,
			OfferID:              offer.ID,
			Borrower:             tx.caller,
			Lender:               offer.Lender,
			CollateralAmount:     cloneInt(collateralAmount),
			BorrowedAmount:       cloneInt(borrowAmount),
			InterestRate:         offer.WeeklyInterestRate,
			StartTime:            tx.now,
			LastInterestUpdate:   tx.now,
			AccumulatedInterest:  big.NewInt(0),
			LiquidationThreshold: offer.LiquidationThreshold,
			Active:               true,
		}
		if err := tx.state.PutLoan(loan); err != nil {
			return err
		}
		if err := addToIndex(tx.state, indexBorrowerLoans, loan.Borrower, id); err != nil {
			return err
		}
		if err := addToIndex(tx.state, indexLenderLoans, loan.Lender, id); err != nil {
			return err
		}
		if err := addToIndex(tx.state, indexActiveLoans, "", id); err != nil {
			return err
		}

		remaining, err := subBig(offer.USDCAmount, borrowAmount)
		if err != nil {
			return err
		}
		offer.USDCAmount = remaining
		if err := tx.state.PutOffer(offer); err != nil {
			return err
		}
		if err := tx.transfer(usdc, e.escrow, tx.caller, borrowAmount); err != nil {
			return err
		}
		tx.emit(events.LoanOpened{
			LoanID:     id,
			OfferID:    offer.ID,
			Borrower:   loan.Borrower,
			Lender:     loan.Lender,
			Collateral: cloneInt(loan.CollateralAmount),
			Principal:  cloneInt(loan.BorrowedAmount),
			Rate:       loan.InterestRate,
		})
		loanID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return loanID, nil
}

// Repay pays amount of the debt asset from the borrower to the lender.
// Outstanding interest is settled first and the remainder reduces principal.
// A repayment that clears the debt closes the loan and releases collateral.
func (e *Engine) Repay(borrower string, loanID uint64, amount *big.Int) error {
	return e.execute("repay", borrower, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		loan, err := tx.loadBorrowerLoan(loanID)
		if err != nil {
			return err
		}
		totalDebt, err := LoanTotalDebt(loan, tx.now)
		if err != nil {
			return err
		}
		if err := ValidateRepayAmount(amount, totalDebt); err != nil {
			return err
		}
		usdc, err := tx.usdc()
		if err != nil {
			return err
		}
		if err := tx.transfer(usdc, tx.caller, loan.Lender, amount); err != nil {
			return err
		}

		totalInterest, err := OutstandingInterest(loan, tx.now)
		if err != nil {
			return err
		}
		interestPaid := cloneInt(amount)
		principalPaid := big.NewInt(0)
		if amount.Cmp(totalInterest) >= 0 {
			interestPaid = totalInterest
			if principalPaid, err = subBig(amount, totalInterest); err != nil {
				return err
			}
			loan.AccumulatedInterest = big.NewInt(0)
			if loan.BorrowedAmount, err = subBig(loan.BorrowedAmount, principalPaid); err != nil {
				return err
			}
		} else if loan.AccumulatedInterest, err = subBig(totalInterest, amount); err != nil {
			return err
		}
		loan.LastInterestUpdate = tx.now

		closed := loan.BorrowedAmount.Sign() == 0 && loan.AccumulatedInterest.Sign() == 0
		if closed {
			loan.Active = false
			if err := removeFromIndex(tx.state, indexActiveLoans, "", loanID); err != nil {
				return err
			}
			xlm, err := tx.xlm()
			if err != nil {
				return err
			}
			if err := tx.transfer(xlm, e.escrow, loan.Borrower, loan.CollateralAmount); err != nil {
				return err
			}
		}
		if err := tx.state.PutLoan(loan); err != nil {
			return err
		}
		remaining, err := addBig(loan.BorrowedAmount, loan.AccumulatedInterest)
		if err != nil {
			return err
		}
		tx.emit(events.LoanRepaid{
			LoanID:        loanID,
			Borrower:      loan.Borrower,
			Lender:        loan.Lender,
			Amount:        cloneInt(amount),
			InterestPaid:  interestPaid,
			PrincipalPaid: principalPaid,
			RemainingDebt: remaining,
		})
		if closed {
			tx.emit(events.LoanClosed{
				LoanID:             loanID,
				Borrower:           loan.Borrower,
				CollateralReturned: cloneInt(loan.CollateralAmount),
			})
		}
		return nil
	})
}

// AddCollateral posts additional collateral to an active loan.
func (e *Engine) AddCollateral(borrower string, loanID uint64, amount *big.Int) error {
	return e.execute("add_collateral", borrower, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		loan, err := tx.loadBorrowerLoan(loanID)
		if err != nil {
			return err
		}
		if err := validateCollateralAmount(amount); err != nil {
			return err
		}
		total, err := addBig(loan.CollateralAmount, amount)
		if err != nil {
			return err
		}
		xlm, err := tx.xlm()
		if err != nil {
			return err
		}
		if err := tx.transfer(xlm, tx.caller, e.escrow, amount); err != nil {
			return err
		}
		loan.CollateralAmount = total
		if err := tx.state.PutLoan(loan); err != nil {
			return err
		}
		tx.emit(events.CollateralAdjusted{
			LoanID:   loanID,
			Borrower: loan.Borrower,
			Delta:    cloneInt(amount),
			Total:    cloneInt(total),
			Added:    true,
		})
		return nil
	})
}

// WithdrawCollateral releases collateral as long as the loan stays above its
// liquidation threshold plus the safety margin at the live price and debt.
func (e *Engine) WithdrawCollateral(borrower string, loanID uint64, amount *big.Int) error {
	return e.executePriced("withdraw_collateral", borrower, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		loan, err := tx.loadBorrowerLoan(loanID)
		if err != nil {
			return err
		}
		totalDebt, err := LoanTotalDebt(loan, tx.now)
		if err != nil {
			return err
		}
		o, err := tx.priceOracle()
		if err != nil {
			return err
		}
		if err := e.validateCollateralWithdrawal(o, loan.CollateralAmount, amount, totalDebt, loan.LiquidationThreshold); err != nil {
			return err
		}
		remaining, err := subBig(loan.CollateralAmount, amount)
		if err != nil {
			return err
		}
		xlm, err := tx.xlm()
		if err != nil {
			return err
		}
		if err := tx.transfer(xlm, e.escrow, tx.caller, amount); err != nil {
			return err
		}
		loan.CollateralAmount = remaining
		if err := tx.state.PutLoan(loan); err != nil {
			return err
		}
		tx.emit(events.CollateralAdjusted{
			LoanID:   loanID,
			Borrower: loan.Borrower,
			Delta:    cloneInt(amount),
			Total:    cloneInt(remaining),
		})
		return nil
	})
}
