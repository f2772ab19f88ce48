package exchange

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
)

// Store persists engine state in Pebble: the order table, terminal marker
// sets, custodial balances, counters, and the event journal. All writes go
// through atomic batches created per engine mutation.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// State is everything needed to rebuild an engine after restart.
type State struct {
	OrderCount uint64
	EventSeq   uint64
	Orders     map[uint64]*Order
	Cancelled  []uint64
	Filled     []uint64
	Balances   map[common.Address]map[common.Address]amount.Amount
	Events     []Event
	Trades     []Trade
}

// Load reads the full persisted state. A fresh database yields empty state.
func (s *Store) Load() (*State, error) {
	state := &State{
		Orders:   make(map[uint64]*Order),
		Balances: make(map[common.Address]map[common.Address]amount.Amount),
	}

	var err error
	if state.OrderCount, err = s.loadCounter(keyOrderCount); err != nil {
		return nil, err
	}
	if state.EventSeq, err = s.loadCounter(keyEventSeq); err != nil {
		return nil, err
	}

	if err := s.scan(prefixOrder, func(key, value []byte) error {
		var o Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("unmarshal order %q: %w", key, err)
		}
		state.Orders[o.ID] = &o
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixCancelled, func(key, _ []byte) error {
		id, err := idFromKey(key, prefixCancelled)
		if err != nil {
			return err
		}
		state.Cancelled = append(state.Cancelled, id)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixFilled, func(key, _ []byte) error {
		id, err := idFromKey(key, prefixFilled)
		if err != nil {
			return err
		}
		state.Filled = append(state.Filled, id)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixBalance, func(key, value []byte) error {
		asset, user, err := balanceKeyFromBytes(key)
		if err != nil {
			return err
		}
		amt, err := amount.Parse(string(value))
		if err != nil {
			return fmt.Errorf("balance %q: %w", key, err)
		}
		byUser, ok := state.Balances[asset]
		if !ok {
			byUser = make(map[common.Address]amount.Amount)
			state.Balances[asset] = byUser
		}
		byUser[user] = amt
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixEvent, func(key, value []byte) error {
		var ev Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("unmarshal event %q: %w", key, err)
		}
		state.Events = append(state.Events, ev)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan(prefixTrade, func(key, value []byte) error {
		var tr Trade
		if err := json.Unmarshal(value, &tr); err != nil {
			return fmt.Errorf("unmarshal trade %q: %w", key, err)
		}
		state.Trades = append(state.Trades, tr)
		return nil
	}); err != nil {
		return nil, err
	}

	return state, nil
}

func (s *Store) loadCounter(key string) (uint64, error) {
	data, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("counter %s has %d bytes, want 8", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// scan iterates every key under a prefix in lexicographic order.
func (s *Store) scan(prefix string, fn func(key, value []byte) error) error {
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch accumulates the writes of one engine mutation and commits them
// atomically.
type Batch struct {
	batch *pebble.Batch
	err   error
}

// NewBatch creates a batch writer.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) set(key, value []byte) {
	if b.err != nil {
		return
	}
	b.err = b.batch.Set(key, value, nil)
}

func (b *Batch) setJSON(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = err
		return
	}
	b.set(key, data)
}

func (b *Batch) setCounter(key string, n uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	b.set([]byte(key), buf[:])
}

// SetOrder stages an order row.
func (b *Batch) SetOrder(o *Order) {
	b.setJSON(orderKey(o.ID), o)
}

// SetOrderCount stages the order counter.
func (b *Batch) SetOrderCount(n uint64) {
	b.setCounter(keyOrderCount, n)
}

// SetEventSeq stages the event sequence counter.
func (b *Batch) SetEventSeq(n uint64) {
	b.setCounter(keyEventSeq, n)
}

// MarkCancelled stages a cancelled-set marker.
func (b *Batch) MarkCancelled(id uint64) {
	b.set(cancelledKey(id), []byte{1})
}

// MarkFilled stages a filled-set marker.
func (b *Batch) MarkFilled(id uint64) {
	b.set(filledKey(id), []byte{1})
}

// SetBalance stages a custodial balance cell.
func (b *Batch) SetBalance(asset, user common.Address, amt amount.Amount) {
	b.set(balanceStoreKey(asset, user), []byte(amt.String()))
}

// AppendEvent stages an event journal entry keyed by its sequence number.
func (b *Batch) AppendEvent(ev Event) {
	b.setJSON(eventKey(ev.Seq), ev)
}

// AppendTrade stages a trade row keyed by the settling event's sequence.
func (b *Batch) AppendTrade(seq uint64, tr Trade) {
	b.setJSON(tradeKey(seq), tr)
}

// Commit writes the batch atomically and synced to disk.
func (b *Batch) Commit() error {
	if b.err != nil {
		if b.batch != nil {
			b.batch.Close()
		}
		return b.err
	}
	return b.batch.Commit(pebble.Sync)
}
