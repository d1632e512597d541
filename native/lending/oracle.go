package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

// PriceFeed is the external price provider consumed by the engine.
type PriceFeed interface {
	// LastPrice returns the latest quote for asset, if any.
	LastPrice(asset string) (PriceQuote, bool)
	// Decimals is the fixed-point precision of every quote.
	Decimals() uint32
}

// FeedResolver maps the configured oracle address to a live feed.
type FeedResolver interface {
	Feed(address string) (PriceFeed, bool)
}

// ValidateQuote checks freshness, positivity and the plausibility band
// [10^(decimals-2), 100*10^decimals] of a quote. Quotes stamped after now are
// treated as fresh.
func ValidateQuote(q PriceQuote, decimals uint32, now, stalenessSeconds uint64) error {
	if now > q.Timestamp && now-q.Timestamp > stalenessSeconds {
		return wrap(ErrStalePriceData, "quote age %ds", now-q.Timestamp)
	}
	if q.Price == nil || q.Price.Sign() <= 0 {
		return ErrInvalidPriceData
	}
	if decimals < 2 {
		return wrap(ErrInvalidPriceData, "feed precision %d too small", decimals)
	}
	price, err := u256(q.Price)
	if err != nil {
		return ErrInvalidPriceData
	}
	minPrice, err := pow10(decimals - 2)
	if err != nil {
		return err
	}
	unit, err := pow10(decimals)
	if err != nil {
		return err
	}
	maxPrice, err := checkedMul(unit, u64(100))
	if err != nil {
		return err
	}
	if price.Lt(minPrice) || price.Gt(maxPrice) {
		return wrap(ErrInvalidPriceData, "price %s outside sanity band", q.Price)
	}
	return nil
}

// ConvertCollateralToDebt values a collateral amount in the debt asset:
// amount * price / 10^decimals.
func ConvertCollateralToDebt(amount, price *big.Int, decimals uint32) (*big.Int, error) {
	a, err := u256(amount)
	if err != nil {
		return nil, err
	}
	p, err := u256(price)
	if err != nil {
		return nil, err
	}
	unit, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	out, err := mulDiv(a, p, unit)
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

// ConvertDebtToCollateral returns the collateral amount worth a debt-asset
// amount: amount * 10^decimals / price.
func ConvertDebtToCollateral(amount, price *big.Int, decimals uint32) (*big.Int, error) {
	a, err := u256(amount)
	if err != nil {
		return nil, err
	}
	p, err := u256(price)
	if err != nil {
		return nil, err
	}
	unit, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	out, err := mulDiv(a, unit, p)
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

// priceOracle is a per-operation snapshot of the configured feed. The feed is
// read once when the snapshot is taken and the quote is validated against the
// operation's clock on first use; it is never carried across operations.
type priceOracle struct {
	asset     string
	precision uint32
	raw       PriceQuote
	found     bool
	now       uint64
	staleness uint64

	quote *PriceQuote
}

func (e *Engine) priceOracle(cfg *MarketConfig, now uint64) (*priceOracle, error) {
	if cfg.Oracle == "" || e.feeds == nil {
		return nil, ErrOracleNotSet
	}
	feed, ok := e.feeds.Feed(cfg.Oracle)
	if !ok || feed == nil {
		return nil, wrap(ErrOracleNotSet, "no feed registered for %s", cfg.Oracle)
	}
	if cfg.XLMToken == "" {
		return nil, ErrXlmTokenNotSet
	}
	q, found := feed.LastPrice(cfg.XLMToken)
	return &priceOracle{
		asset:     cfg.XLMToken,
		precision: feed.Decimals(),
		raw:       q,
		found:     found,
		now:       now,
		staleness: e.cfg.StalenessSeconds,
	}, nil
}

func (o *priceOracle) decimals() uint32 { return o.precision }

// Price returns the validated collateral price.
func (o *priceOracle) Price() (PriceQuote, error) {
	if o.quote != nil {
		return *o.quote, nil
	}
	if !o.found {
		return PriceQuote{}, ErrPriceNotAvailable
	}
	q := o.raw
	if err := ValidateQuote(q, o.decimals(), o.now, o.staleness); err != nil {
		return PriceQuote{}, err
	}
	q.Price = cloneInt(q.Price)
	o.quote = &q
	return q, nil
}

func (o *priceOracle) CollateralToDebt(amount *big.Int) (*big.Int, error) {
	q, err := o.Price()
	if err != nil {
		return nil, err
	}
	return ConvertCollateralToDebt(amount, q.Price, o.decimals())
}

func (o *priceOracle) DebtToCollateral(amount *big.Int) (*big.Int, error) {
	q, err := o.Price()
	if err != nil {
		return nil, err
	}
	return ConvertDebtToCollateral(amount, q.Price, o.decimals())
}

// LiquidationPrice is the collateral price at which the loan's ratio equals
// its threshold: debt * threshold * 10^decimals / collateral / 10000.
func LiquidationPrice(totalDebt, collateral *big.Int, thresholdBps uint32, decimals uint32) (*big.Int, error) {
	d, err := u256(totalDebt)
	if err != nil {
		return nil, err
	}
	c, err := u256(collateral)
	if err != nil {
		return nil, err
	}
	unit, err := pow10(decimals)
	if err != nil {
		return nil, err
	}
	acc, err := checkedMul(d, u64(uint64(thresholdBps)))
	if err != nil {
		return nil, err
	}
	if acc, err = checkedMul(acc, unit); err != nil {
		return nil, err
	}
	if acc, err = checkedDiv(acc, c); err != nil {
		return nil, err
	}
	if acc, err = checkedDiv(acc, uint256.NewInt(uint64(BasisPoints))); err != nil {
		return nil, err
	}
	return acc.ToBig(), nil
}
