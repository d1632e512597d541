package lending

import (
	"math/big"

	"p2plend/core/events"
)

// OfferParams describes a new lending offer.
type OfferParams struct {
	Amount               *big.Int
	WeeklyInterestRate   uint32
	MinCollateralRatio   uint32
	LiquidationThreshold uint32
	MaxDurationWeeks     uint32
}

// CreateOffer escrows Amount of the debt asset from the lender and lists it
// for borrowers. It returns the new offer id.
func (e *Engine) CreateOffer(lender string, p OfferParams) (uint64, error) {
	var offerID uint64
	err := e.execute("create_offer", lender, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		if err := validateOfferAmount(p.Amount); err != nil {
			return err
		}
		if err := ValidateInterestRate(p.WeeklyInterestRate, tx.market.MaxInterestRate); err != nil {
			return err
		}
		if err := ValidateCollateralRatio(p.MinCollateralRatio, e.cfg.MaxCollateralRatio); err != nil {
			return err
		}
		if err := ValidateLiquidationThreshold(p.LiquidationThreshold, p.MinCollateralRatio); err != nil {
			return err
		}
		if p.MaxDurationWeeks == 0 {
			return wrap(ErrInvalidInput, "max duration must be at least one week")
		}
		if _, err := u256(p.Amount); err != nil {
			return err
		}
		owned, err := tx.state.GetIndex(indexUserOffers, tx.caller)
		if err != nil {
			return err
		}
		if len(owned) >= e.cfg.MaxOffersPerUser {
			return wrap(ErrTooManyOffers, "%d offers, cap %d", len(owned), e.cfg.MaxOffersPerUser)
		}

		usdc, err := tx.usdc()
		if err != nil {
			return err
		}
		if err := tx.transfer(usdc, tx.caller, e.escrow, p.Amount); err != nil {
			return err
		}

		id, err := tx.state.NextOfferID()
		if err != nil {
			return err
		}
		offer := &Offer{
			ID:                   id,
			Lender:               tx.caller,
			USDCAmount:           cloneInt(p.Amount),
			WeeklyInterestRate:   p.WeeklyInterestRate,
			MinCollateralRatio:   p.MinCollateralRatio,
			LiquidationThreshold: p.LiquidationThreshold,
			MaxDurationWeeks:     p.MaxDurationWeeks,
			Active:               true,
			CreatedAt:            tx.now,
		}
		if err := tx.state.PutOffer(offer); err != nil {
			return err
		}
		if err := addToIndex(tx.state, indexUserOffers, tx.caller, id); err != nil {
			return err
		}
		if err := addToIndex(tx.state, indexActiveOffers, "", id); err != nil {
			return err
		}
		tx.emit(events.OfferCreated{
			OfferID:              id,
			Lender:               offer.Lender,
			Amount:               cloneInt(offer.USDCAmount),
			WeeklyInterestRate:   offer.WeeklyInterestRate,
			MinCollateralRatio:   offer.MinCollateralRatio,
			LiquidationThreshold: offer.LiquidationThreshold,
			MaxDurationWeeks:     offer.MaxDurationWeeks,
		})
		offerID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return offerID, nil
}

// loadLenderOffer loads an offer owned by the caller.
func (tx *txn) loadLenderOffer(id uint64) (*Offer, error) {
	offer, err := tx.loadOffer(id)
	if err != nil {
		return nil, err
	}
	if offer.Lender != tx.caller {
		return nil, ErrOnlyLender
	}
	return offer, nil
}

// CancelOffer deactivates the offer and refunds its remaining principal.
// Principal already drawn by borrowers was deducted at borrow time and is
// repaid to the lender through the loans themselves.
func (e *Engine) CancelOffer(lender string, offerID uint64) error {
	return e.execute("cancel_offer", lender, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		offer, err := tx.loadLenderOffer(offerID)
		if err != nil {
			return err
		}
		if !offer.Active {
			return ErrOfferNotActive
		}
		refund := cloneInt(offer.USDCAmount)
		offer.Active = false
		offer.USDCAmount = big.NewInt(0)
		if err := tx.state.PutOffer(offer); err != nil {
			return err
		}
		if err := removeFromIndex(tx.state, indexActiveOffers, "", offerID); err != nil {
			return err
		}
		usdc, err := tx.usdc()
		if err != nil {
			return err
		}
		if err := tx.transfer(usdc, e.escrow, tx.caller, refund); err != nil {
			return err
		}
		tx.emit(events.OfferCancelled{OfferID: offerID, Lender: tx.caller, Refunded: refund})
		return nil
	})
}

// WithdrawFromOffer returns part of an active offer's remaining principal to
// the lender. The offer stays active even when drained.
func (e *Engine) WithdrawFromOffer(lender string, offerID uint64, amount *big.Int) error {
	return e.execute("withdraw_from_offer", lender, func(tx *txn) error {
		if err := tx.requireOpen(); err != nil {
			return err
		}
		offer, err := tx.loadLenderOffer(offerID)
		if err != nil {
			return err
		}
		if !offer.Active {
			return ErrOfferNotActive
		}
		if !isPositive(amount) || amount.Cmp(offer.USDCAmount) > 0 {
			return wrap(ErrInvalidInput, "withdrawal %s, available %s", formatAmount(amount), offer.USDCAmount)
		}
		remaining, err := subBig(offer.USDCAmount, amount)
		if err != nil {
			return err
		}
		offer.USDCAmount = remaining
		if err := tx.state.PutOffer(offer); err != nil {
			return err
		}
		usdc, err := tx.usdc()
		if err != nil {
			return err
		}
		if err := tx.transfer(usdc, e.escrow, tx.caller, amount); err != nil {
			return err
		}
		tx.emit(events.OfferWithdrawn{
			OfferID:   offerID,
			Lender:    tx.caller,
			Amount:    cloneInt(amount),
			Remaining: cloneInt(remaining),
		})
		return nil
	})
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
