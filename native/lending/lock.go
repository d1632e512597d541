package lending

// Mutating operations hold the engine lock exclusively and queries share it.
// Writers queue behind one another instead of failing. Nothing outside the
// engine runs while the lock is held: the price feed is read before the lock
// is taken, and committed events are delivered after it is released. A feed
// or event subscriber that calls back into the engine therefore never waits
// on itself.

// pricePrefetch is the feed read taken ahead of an operation that values
// collateral.
type pricePrefetch struct {
	oracle string
	asset  string
	quote  *priceOracle
	err    error
}

func (e *Engine) prefetchPrice() *pricePrefetch {
	market, err := newKVState(e.db).GetConfig()
	if err != nil {
		return &pricePrefetch{err: err}
	}
	if market == nil {
		return &pricePrefetch{err: ErrNotInitialized}
	}
	quote, err := e.priceOracle(market, 0)
	return &pricePrefetch{oracle: market.Oracle, asset: market.XLMToken, quote: quote, err: err}
}

// bind hands the prefetched quote to an operation running against market at
// now. A market whose oracle or collateral asset moved since the read gets no
// price at all.
func (p *pricePrefetch) bind(market *MarketConfig, now uint64) (*priceOracle, error) {
	if market == nil {
		return nil, ErrNotInitialized
	}
	if p == nil {
		return nil, wrap(ErrPriceNotAvailable, "no quote loaded for this operation")
	}
	if market.Oracle != p.oracle || market.XLMToken != p.asset {
		return nil, wrap(ErrPriceNotAvailable, "oracle changed during operation")
	}
	if p.err != nil {
		return nil, p.err
	}
	p.quote.now = now
	return p.quote, nil
}
