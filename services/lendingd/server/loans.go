package server

import (
	"math/big"
	"net/http"
)

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	collateral, ok := amountOrError(w, "collateralAmount", req.CollateralAmount)
	if !ok {
		return
	}
	amount, ok := amountOrError(w, "borrowAmount", req.BorrowAmount)
	if !ok {
		return
	}
	var id uint64
	err := s.write(func() error {
		var err error
		id, err = s.engine.Borrow(caller, req.OfferID, collateral, amount)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{LoanID: id})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.loanAmountOp(w, r, s.engine.Repay)
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	s.loanAmountOp(w, r, s.engine.AddCollateral)
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	s.loanAmountOp(w, r, s.engine.WithdrawCollateral)
}

// loanAmountOp runs a borrower operation taking a loan id and an amount and
// responds with the updated loan.
func (s *Server) loanAmountOp(w http.ResponseWriter, r *http.Request, fn func(borrower string, loanID uint64, amount *big.Int) error) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := amountOrError(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := s.write(func() error { return fn(caller, id, amount) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLoan(w, r, id)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var settlement settlementDTO
	err := s.write(func() error {
		res, err := s.engine.Liquidate(caller, id)
		if err != nil {
			return err
		}
		settlement = newSettlementDTO(res)
		return nil
	})
	s.metrics.RecordLiquidation(err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writeLoan(w, r, id)
}

func (s *Server) writeLoan(w http.ResponseWriter, r *http.Request, id uint64) {
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanDTO(loan))
}

func (s *Server) handleLoanHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	health, err := s.engine.LoanHealth(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	distance, err := s.engine.LiquidationDistance(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := newHealthDTO(health, distance)
	s.metrics.RecordHealthCheck(out.Status)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLoanInterest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	interest, err := s.engine.LoanInterest(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"interest": amountString(interest)})
}

func (s *Server) handleIsLiquidatable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	liquidatable, err := s.engine.IsLiquidatable(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liquidatable": liquidatable})
}

func (s *Server) handleBatchLiquidatable(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.writeIDs(w, r, func() ([]uint64, error) { return s.engine.BatchCheckLiquidatable(req.LoanIDs) })
}

func (s *Server) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	s.writeIDs(w, r, s.engine.ActiveLoans)
}
