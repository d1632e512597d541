package lending

import (
	"math/big"
	"strings"
)

// Mint credits amount of one of the market's assets to recipient. It backs
// the development faucet and is restricted to the admin.
func (e *Engine) Mint(admin, asset, recipient string, amount *big.Int) error {
	return e.execute("mint", admin, func(tx *txn) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		asset, err := validateMint(tx.market, e.escrow, asset, recipient, amount)
		if err != nil {
			return err
		}
		if err := tx.ledger.Mint(asset, recipient, amount); err != nil {
			return wrap(ErrTokenTransferFailed, "%v", err)
		}
		return nil
	})
}

// validateMint checks a faucet credit against the market. Only the market's
// two assets can be minted, never to the escrow account, and amounts are
// bounded like every other engine amount. It returns the trimmed asset.
func validateMint(market *MarketConfig, escrow, asset, recipient string, amount *big.Int) (string, error) {
	if market == nil {
		return "", ErrNotInitialized
	}
	asset = strings.TrimSpace(asset)
	if asset == "" || (!strings.EqualFold(asset, market.USDCToken) && !strings.EqualFold(asset, market.XLMToken)) {
		return "", wrap(ErrInvalidInput, "unknown asset %q", asset)
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", wrap(ErrInvalidInput, "recipient required")
	}
	if strings.EqualFold(recipient, strings.TrimSpace(escrow)) {
		return "", wrap(ErrUnauthorized, "cannot mint to escrow account %s", recipient)
	}
	if !isPositive(amount) {
		return "", wrap(ErrInvalidInput, "amount must be positive")
	}
	if _, err := u256(amount); err != nil {
		return "", err
	}
	return asset, nil
}
