package lending

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2plend/storage"
)

// indexKind names an id set maintained alongside the primary records.
type indexKind string

const (
	indexActiveOffers  indexKind = "active-offers"
	indexActiveLoans   indexKind = "active-loans"
	indexUserOffers    indexKind = "user-offers"
	indexBorrowerLoans indexKind = "borrower-loans"
	indexLenderLoans   indexKind = "lender-loans"
)

var (
	configKey     = []byte("lending/config")
	offerSeqKey   = []byte("lending/seq/offer")
	loanSeqKey    = []byte("lending/seq/loan")
	offerPrefix   = []byte("lending/offer/")
	loanPrefix    = []byte("lending/loan/")
	indexPrefix   = []byte("lending/index/")
	firstSequence = uint64(1)
)

// engineState is the persistence surface the engine mutates within one
// operation. Implementations must not leak writes from a failed operation.
type engineState interface {
	GetConfig() (*MarketConfig, error)
	PutConfig(cfg *MarketConfig) error
	NextOfferID() (uint64, error)
	NextLoanID() (uint64, error)
	GetOffer(id uint64) (*Offer, error)
	PutOffer(offer *Offer) error
	GetLoan(id uint64) (*Loan, error)
	PutLoan(loan *Loan) error
	GetIndex(kind indexKind, owner string) (idSet, error)
	PutIndex(kind indexKind, owner string, set idSet) error
}

// idSet is an unordered id set persisted as a sorted list.
type idSet map[uint64]struct{}

func newIDSet(ids ...uint64) idSet {
	set := make(idSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s idSet) add(id uint64)    { s[id] = struct{}{} }
func (s idSet) remove(id uint64) { delete(s, id) }

func (s idSet) contains(id uint64) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []uint64 {
	out := make([]uint64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// kvState persists engine records as RLP over a key-value view.
type kvState struct {
	kv storage.KV
}

func newKVState(kv storage.KV) *kvState { return &kvState{kv: kv} }

func idKey(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

// indexKey hashes the owner so keys have a fixed width regardless of the
// address format.
func indexKey(kind indexKind, owner string) []byte {
	key := append(append([]byte(nil), indexPrefix...), kind...)
	if owner == "" {
		return key
	}
	key = append(key, '/')
	return append(key, ethcrypto.Keccak256([]byte(owner))...)
}

func (s *kvState) get(key []byte, out interface{}) (bool, error) {
	data, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *kvState) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.kv.Put(key, encoded)
}

func (s *kvState) GetConfig() (*MarketConfig, error) {
	cfg := new(MarketConfig)
	ok, err := s.get(configKey, cfg)
	if err != nil || !ok {
		return nil, err
	}
	return cfg, nil
}

func (s *kvState) PutConfig(cfg *MarketConfig) error { return s.put(configKey, cfg) }

func (s *kvState) nextID(key []byte) (uint64, error) {
	next := firstSequence
	if _, err := s.get(key, &next); err != nil {
		return 0, err
	}
	if err := s.put(key, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *kvState) NextOfferID() (uint64, error) { return s.nextID(offerSeqKey) }
func (s *kvState) NextLoanID() (uint64, error)  { return s.nextID(loanSeqKey) }

func (s *kvState) GetOffer(id uint64) (*Offer, error) {
	offer := new(Offer)
	ok, err := s.get(idKey(offerPrefix, id), offer)
	if err != nil || !ok {
		return nil, err
	}
	return offer, nil
}

func (s *kvState) PutOffer(offer *Offer) error { return s.put(idKey(offerPrefix, offer.ID), offer) }

func (s *kvState) GetLoan(id uint64) (*Loan, error) {
	loan := new(Loan)
	ok, err := s.get(idKey(loanPrefix, id), loan)
	if err != nil || !ok {
		return nil, err
	}
	return loan, nil
}

func (s *kvState) PutLoan(loan *Loan) error { return s.put(idKey(loanPrefix, loan.ID), loan) }

func (s *kvState) GetIndex(kind indexKind, owner string) (idSet, error) {
	var ids []uint64
	if _, err := s.get(indexKey(kind, owner), &ids); err != nil {
		return nil, err
	}
	return newIDSet(ids...), nil
}

func (s *kvState) PutIndex(kind indexKind, owner string, set idSet) error {
	return s.put(indexKey(kind, owner), set.sorted())
}

func addToIndex(st engineState, kind indexKind, owner string, id uint64) error {
	set, err := st.GetIndex(kind, owner)
	if err != nil {
		return err
	}
	set.add(id)
	return st.PutIndex(kind, owner, set)
}

func removeFromIndex(st engineState, kind indexKind, owner string, id uint64) error {
	set, err := st.GetIndex(kind, owner)
	if err != nil {
		return err
	}
	if !set.contains(id) {
		return nil
	}
	set.remove(id)
	return st.PutIndex(kind, owner, set)
}
