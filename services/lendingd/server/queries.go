package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"p2plend/native/lending"
	"p2plend/services/lendingd/journal"
)

const defaultEventLimit = 50

func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := strings.TrimSpace(chi.URLParam(r, "addr"))
	if addr == "" {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidInput.Code, "address required")
		return "", false
	}
	return addr, true
}

func (s *Server) handleUserOffers(w http.ResponseWriter, r *http.Request) {
	addr, ok := userParam(w, r)
	if !ok {
		return
	}
	s.writeIDs(w, r, func() ([]uint64, error) { return s.engine.UserOffers(addr) })
}

func (s *Server) handleUserLoans(w http.ResponseWriter, r *http.Request) {
	addr, ok := userParam(w, r)
	if !ok {
		return
	}
	borrower, err := s.engine.BorrowerLoans(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lender, err := s.engine.LenderLoans(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if borrower == nil {
		borrower = []uint64{}
	}
	if lender == nil {
		lender = []uint64{}
	}
	writeJSON(w, http.StatusOK, userLoansDTO{Borrower: borrower, Lender: lender})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	addr, ok := userParam(w, r)
	if !ok {
		return
	}
	p, err := s.engine.Portfolio(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPortfolioDTO(p))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(chi.URLParam(r, "asset"))
	account := strings.TrimSpace(chi.URLParam(r, "account"))
	balance, err := s.engine.Balance(asset, account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   strings.ToUpper(asset),
		"account": account,
		"balance": amountString(balance),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q, err := s.engine.CurrentPrice()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, priceDTO{Price: amountString(q.Price), Timestamp: q.Timestamp})
}

func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := userParam(w, r)
	if !ok {
		return
	}
	limit, err := queryUint32(r, "limit", defaultEventLimit)
	if err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidPagination.Code, err.Error())
		return
	}
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []journal.Record{})
		return
	}
	records, err := s.journal.ByAddress(r.Context(), addr, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleLoanEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, err := queryUint32(r, "limit", defaultEventLimit)
	if err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidPagination.Code, err.Error())
		return
	}
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []journal.Record{})
		return
	}
	records, err := s.journal.ByLoan(r.Context(), id, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
