package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2plend/storage"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInvalidAccount      = errors.New("bank: account must not be empty")
	ErrInvalidAsset        = errors.New("bank: asset must not be empty")
)

var (
	balancePrefix = []byte("bank/balance/")
	supplyPrefix  = []byte("bank/supply/")
)

// Ledger tracks fungible balances for any number of assets over a key-value
// view. Writes go straight to the view, so callers that stage the view (see
// storage.Overlay) get transfers that commit or roll back with the rest of
// their state.
type Ledger struct {
	kv storage.KV
}

// NewLedger binds a ledger to kv.
func NewLedger(kv storage.KV) *Ledger {
	return &Ledger{kv: kv}
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func balanceKey(asset, account string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(asset)+1+32)
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset...)
	buf = append(buf, '/')
	return append(buf, ethcrypto.Keccak256([]byte(account))...)
}

func supplyKey(asset string) []byte {
	return append(append([]byte(nil), supplyPrefix...), asset...)
}

func (l *Ledger) load(key []byte) (*big.Int, error) {
	data, err := l.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, fmt.Errorf("bank: decode balance: %w", err)
	}
	return amount, nil
}

func (l *Ledger) store(key []byte, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("bank: negative balance not allowed")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return l.kv.Put(key, encoded)
}

// Balance returns the balance of account in asset. Unknown accounts hold zero.
func (l *Ledger) Balance(asset, account string) (*big.Int, error) {
	asset = normalizeAsset(asset)
	if asset == "" {
		return nil, ErrInvalidAsset
	}
	return l.load(balanceKey(asset, account))
}

// Supply returns the total minted amount of asset.
func (l *Ledger) Supply(asset string) (*big.Int, error) {
	asset = normalizeAsset(asset)
	if asset == "" {
		return nil, ErrInvalidAsset
	}
	return l.load(supplyKey(asset))
}

// Mint credits amount of asset to account and grows the supply.
func (l *Ledger) Mint(asset, account string, amount *big.Int) error {
	asset = normalizeAsset(asset)
	if asset == "" {
		return ErrInvalidAsset
	}
	if strings.TrimSpace(account) == "" {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	key := balanceKey(asset, account)
	balance, err := l.load(key)
	if err != nil {
		return err
	}
	supply, err := l.load(supplyKey(asset))
	if err != nil {
		return err
	}
	if err := l.store(key, balance.Add(balance, amount)); err != nil {
		return err
	}
	return l.store(supplyKey(asset), supply.Add(supply, amount))
}

// Transfer moves amount of asset between accounts. A transfer to self is a
// balance check only.
func (l *Ledger) Transfer(asset, from, to string, amount *big.Int) error {
	asset = normalizeAsset(asset)
	if asset == "" {
		return ErrInvalidAsset
	}
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromKey := balanceKey(asset, from)
	fromBal, err := l.load(fromKey)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBal, asset, amount)
	}
	if from == to {
		return nil
	}
	toKey := balanceKey(asset, to)
	toBal, err := l.load(toKey)
	if err != nil {
		return err
	}
	if err := l.store(fromKey, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.store(toKey, toBal.Add(toBal, amount))
}
