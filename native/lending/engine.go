package lending

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"p2plend/core/events"
	"p2plend/native/bank"
	nativecommon "p2plend/native/common"
	"p2plend/storage"
)

var errNilState = errors.New("lending engine: state not configured")

const moduleName = "lending"

// DefaultEscrowAccount holds deposited principal and posted collateral.
const DefaultEscrowAccount = "lending-market"

// Engine orchestrates the offer and loan lifecycle of the market. Every
// mutating operation runs against a staged view of the database and commits
// as one batch, so a failure leaves no partial writes behind.
type Engine struct {
	db      storage.Database
	feeds   FeedResolver
	cfg     Config
	escrow  string
	pauses  nativecommon.PauseView
	now     func() time.Time
	emitter events.Emitter
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewEngine constructs an engine over db. Zero fields in cfg take their
// defaults.
func NewEngine(db storage.Database, feeds FeedResolver, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		db:      db,
		feeds:   feeds,
		cfg:     cfg,
		escrow:  DefaultEscrowAccount,
		now:     time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}, nil
}

// SetPauses wires an external pause switch consulted alongside the market's
// own pause flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// SetEmitter configures where committed events are delivered.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetEscrowAccount changes the account custodying market funds. It must be
// set before any funds are deposited.
func (e *Engine) SetEscrowAccount(account string) {
	if e == nil {
		return
	}
	if trimmed := strings.TrimSpace(account); trimmed != "" {
		e.escrow = trimmed
	}
}

// isEscrow reports whether account names the escrow. Ledger accounts are
// case-sensitive, but a caller differing only in case is still refused.
func (e *Engine) isEscrow(account string) bool {
	return strings.EqualFold(strings.TrimSpace(account), e.escrow)
}

// EscrowAccount returns the account custodying market funds.
func (e *Engine) EscrowAccount() string {
	if e == nil {
		return ""
	}
	return e.escrow
}

// Params returns the runtime parameters in effect.
func (e *Engine) Params() Config {
	if e == nil {
		return DefaultConfig()
	}
	return e.cfg
}

func (e *Engine) timestamp() uint64 {
	ts := e.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// txn is the working set of a single mutating operation.
type txn struct {
	engine   *Engine
	caller   string
	overlay  *storage.Overlay
	state    engineState
	ledger   *bank.Ledger
	market   *MarketConfig
	now      uint64
	prefetch *pricePrefetch
	oracle   *priceOracle
	events   []events.Event
}

func (tx *txn) emit(ev events.Event) { tx.events = append(tx.events, ev) }

// execute runs fn under the engine lock, commits its writes on success and
// delivers the collected events once the lock is released.
func (e *Engine) execute(op, caller string, fn func(tx *txn) error) error {
	return e.deliver(e.apply(op, caller, false, fn))
}

// executePriced is execute for operations that value collateral.
func (e *Engine) executePriced(op, caller string, fn func(tx *txn) error) error {
	return e.deliver(e.apply(op, caller, true, fn))
}

func (e *Engine) deliver(evs []events.Event, err error) error {
	if err != nil {
		return err
	}
	for _, ev := range evs {
		e.emitter.Emit(ev)
	}
	return nil
}

func (e *Engine) apply(op, caller string, priced bool, fn func(tx *txn) error) ([]events.Event, error) {
	if e == nil || e.db == nil {
		return nil, errNilState
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return nil, wrap(ErrUnauthorized, "caller required")
	}
	if e.isEscrow(caller) {
		return nil, wrap(ErrUnauthorized, "escrow account %s cannot act as caller", caller)
	}
	var prefetch *pricePrefetch
	if priced {
		prefetch = e.prefetchPrice()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	overlay := storage.NewOverlay(e.db)
	defer overlay.Discard()
	tx := &txn{
		engine:   e,
		caller:   caller,
		overlay:  overlay,
		state:    newKVState(overlay),
		ledger:   bank.NewLedger(overlay),
		now:      e.timestamp(),
		prefetch: prefetch,
	}
	var err error
	if tx.market, err = tx.state.GetConfig(); err != nil {
		return nil, err
	}
	if err := fn(tx); err != nil {
		e.logger.Debug("lending operation rejected", "op", op, "caller", caller, "error", err)
		return nil, err
	}
	writes := overlay.Dirty()
	if err := overlay.Commit(); err != nil {
		return nil, fmt.Errorf("lending engine: commit %s: %w", op, err)
	}
	e.logger.Info("lending operation applied", "op", op, "caller", caller, "writes", writes)
	return tx.events, nil
}

func (tx *txn) requireMarket() error {
	if tx.market == nil {
		return ErrNotInitialized
	}
	return nil
}

// requireOpen rejects mutations while the market or an external switch is
// paused.
func (tx *txn) requireOpen() error {
	if err := tx.requireMarket(); err != nil {
		return err
	}
	if err := nativecommon.Guard(tx.market, moduleName); err != nil {
		return ErrContractPaused
	}
	if err := nativecommon.Guard(tx.engine.pauses, moduleName); err != nil {
		return wrap(ErrContractPaused, "%v", err)
	}
	return nil
}

func (tx *txn) requireAdmin() error {
	if err := tx.requireMarket(); err != nil {
		return err
	}
	if tx.market.Admin != tx.caller {
		return ErrOnlyAdmin
	}
	return nil
}

func (tx *txn) usdc() (string, error) {
	if tx.market.USDCToken == "" {
		return "", ErrUsdcTokenNotSet
	}
	return tx.market.USDCToken, nil
}

func (tx *txn) xlm() (string, error) {
	if tx.market.XLMToken == "" {
		return "", ErrXlmTokenNotSet
	}
	return tx.market.XLMToken, nil
}

func (tx *txn) priceOracle() (*priceOracle, error) {
	if tx.oracle != nil {
		return tx.oracle, nil
	}
	o, err := tx.prefetch.bind(tx.market, tx.now)
	if err != nil {
		return nil, err
	}
	tx.oracle = o
	return o, nil
}

// transfer moves funds through the ledger. Zero amounts are skipped.
func (tx *txn) transfer(asset, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := tx.ledger.Transfer(asset, from, to, amount); err != nil {
		if errors.Is(err, bank.ErrInsufficientBalance) {
			return wrap(ErrInsufficientBalance, "%v", err)
		}
		return wrap(ErrTokenTransferFailed, "%v", err)
	}
	return nil
}

func (tx *txn) loadOffer(id uint64) (*Offer, error) {
	offer, err := tx.state.GetOffer(id)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, wrap(ErrOfferNotFound, "offer %d", id)
	}
	return offer, nil
}

func (tx *txn) loadLoan(id uint64) (*Loan, error) {
	loan, err := tx.state.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, wrap(ErrLoanNotFound, "loan %d", id)
	}
	return loan, nil
}

// loadBorrowerLoan loads an active loan owned by the caller.
func (tx *txn) loadBorrowerLoan(id uint64) (*Loan, error) {
	loan, err := tx.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.Borrower != tx.caller {
		return nil, ErrOnlyBorrower
	}
	if !loan.Active {
		return nil, ErrLoanNotActive
	}
	return loan, nil
}

// Initialize stores the market configuration. The caller becomes the admin.
// A zero maxRate selects DefaultMaxInterestRate.
func (e *Engine) Initialize(admin, usdcToken, xlmToken, oracle string, maxRate uint32) error {
	return e.execute("initialize", admin, func(tx *txn) error {
		if tx.market != nil {
			return ErrAlreadyInitialized
		}
		usdcToken, xlmToken, oracle = strings.TrimSpace(usdcToken), strings.TrimSpace(xlmToken), strings.TrimSpace(oracle)
		if usdcToken == "" {
			return ErrUsdcTokenNotSet
		}
		if xlmToken == "" {
			return ErrXlmTokenNotSet
		}
		if strings.EqualFold(usdcToken, xlmToken) {
			return wrap(ErrInvalidInput, "debt and collateral assets must differ")
		}
		if oracle == "" {
			return ErrOracleNotSet
		}
		if maxRate == 0 {
			maxRate = DefaultMaxInterestRate
		}
		cfg := &MarketConfig{
			Admin:           tx.caller,
			USDCToken:       usdcToken,
			XLMToken:        xlmToken,
			Oracle:          oracle,
			MaxInterestRate: maxRate,
		}
		if err := tx.state.PutConfig(cfg); err != nil {
			return err
		}
		tx.emit(events.MarketInitialized{
			Admin:           cfg.Admin,
			USDCToken:       cfg.USDCToken,
			XLMToken:        cfg.XLMToken,
			Oracle:          cfg.Oracle,
			MaxInterestRate: cfg.MaxInterestRate,
		})
		return nil
	})
}

// SetMaxInterestRate updates the ceiling applied to new offers. Existing
// offers and loans keep their rates.
func (e *Engine) SetMaxInterestRate(admin string, maxRate uint32) error {
	return e.execute("set_max_interest_rate", admin, func(tx *txn) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		if maxRate == 0 {
			return wrap(ErrInvalidInterestRate, "max rate must be positive")
		}
		tx.market.MaxInterestRate = maxRate
		if err := tx.state.PutConfig(tx.market); err != nil {
			return err
		}
		tx.emit(events.MarketParamsUpdated{Admin: tx.caller, Field: "max_interest_rate", Value: fmt.Sprint(maxRate)})
		return nil
	})
}

// SetOracle points the market at a different price feed address.
func (e *Engine) SetOracle(admin, oracle string) error {
	return e.execute("set_oracle", admin, func(tx *txn) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		oracle = strings.TrimSpace(oracle)
		if oracle == "" {
			return ErrOracleNotSet
		}
		tx.market.Oracle = oracle
		if err := tx.state.PutConfig(tx.market); err != nil {
			return err
		}
		tx.emit(events.MarketParamsUpdated{Admin: tx.caller, Field: "oracle", Value: oracle})
		return nil
	})
}

// Pause blocks every mutating operation except admin ones. Queries keep
// working.
func (e *Engine) Pause(admin string) error { return e.setPaused(admin, true) }

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(admin string) error { return e.setPaused(admin, false) }

func (e *Engine) setPaused(admin string, paused bool) error {
	op := "unpause"
	if paused {
		op = "pause"
	}
	return e.execute(op, admin, func(tx *txn) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		tx.market.Paused = paused
		if err := tx.state.PutConfig(tx.market); err != nil {
			return err
		}
		tx.emit(events.MarketPauseToggled{Admin: tx.caller, Paused: paused})
		return nil
	})
}
