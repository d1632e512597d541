package storage

import "sort"

// KV is the read/write surface shared by Database and Overlay.
type KV interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
}

// Overlay stages writes on top of a Database. Reads observe staged writes;
// nothing reaches the parent until Commit. Overlays are not safe for
// concurrent use.
type Overlay struct {
	parent  Database
	pending map[string]*entry
}

type entry struct {
	value   []byte
	deleted bool
}

// NewOverlay returns an empty overlay over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{parent: parent, pending: make(map[string]*entry)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.pending[string(key)] = &entry{value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if e, ok := o.pending[string(key)]; ok {
		if e.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), e.value...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	if e, ok := o.pending[string(key)]; ok {
		return !e.deleted, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.pending[string(key)] = &entry{deleted: true}
	return nil
}

// Dirty reports the number of staged keys.
func (o *Overlay) Dirty() int { return len(o.pending) }

// Commit writes all staged changes to the parent in a single batch and
// clears the overlay.
func (o *Overlay) Commit() error {
	if len(o.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o.pending))
	for k := range o.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := o.parent.NewBatch()
	for _, k := range keys {
		e := o.pending[k]
		if e.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), e.value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops all staged changes.
func (o *Overlay) Discard() {
	o.pending = make(map[string]*entry)
}
