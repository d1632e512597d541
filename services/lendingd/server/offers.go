package server

import (
	"net/http"

	"p2plend/native/lending"
)

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req createOfferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, ok := amountOrError(w, "amount", req.Amount)
	if !ok {
		return
	}
	var id uint64
	err := s.write(func() error {
		var err error
		id, err = s.engine.CreateOffer(caller, lending.OfferParams{
			Amount:               amount,
			WeeklyInterestRate:   req.WeeklyInterestRate,
			MinCollateralRatio:   req.MinCollateralRatio,
			LiquidationThreshold: req.LiquidationThreshold,
			MaxDurationWeeks:     req.MaxDurationWeeks,
		})
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{OfferID: id})
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.write(func() error { return s.engine.CancelOffer(caller, id) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOffer(w, r, id)
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
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
	if err := s.write(func() error { return s.engine.WithdrawFromOffer(caller, id, amount) }); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOffer(w, r, id)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writeOffer(w, r, id)
}

func (s *Server) writeOffer(w http.ResponseWriter, r *http.Request, id uint64) {
	offer, err := s.engine.Offer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferDTO(offer))
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	sortBy, err := lending.ParseSortOption(r.URL.Query().Get("sort"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryUint32(r, "offset", 0)
	if err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidPagination.Code, err.Error())
		return
	}
	limit, err := queryUint32(r, "limit", lending.DefaultPageLimit)
	if err != nil {
		writeCoded(w, http.StatusBadRequest, lending.ErrInvalidPagination.Code, err.Error())
		return
	}
	offers, err := s.engine.ListOffers(sortBy, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]offerDTO, 0, len(offers))
	for _, o := range offers {
		out = append(out, newOfferDTO(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActiveOffers(w http.ResponseWriter, r *http.Request) {
	s.writeIDs(w, r, s.engine.ActiveOffers)
}

func (s *Server) writeIDs(w http.ResponseWriter, r *http.Request, fn func() ([]uint64, error)) {
	ids, err := fn()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, ids)
}
