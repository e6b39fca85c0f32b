package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

// snapshot is the full state of a MemoryStore, also the FileStore document.
type snapshot struct {
	Format       string                  `json:"format"`
	Negotiations map[string]Entry        `json:"negotiations"`
	Transitions  map[string][]Transition `json:"transitions"`
}

func newSnapshot() snapshot {
	return snapshot{
		Format:       FileFormat,
		Negotiations: make(map[string]Entry),
		Transitions:  make(map[string][]Transition),
	}
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	data    snapshot
	clock   func() time.Time
	persist func(snapshot) error
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(clock func() time.Time) *MemoryStore {
	return &MemoryStore{data: newSnapshot(), clock: clock}
}

func (m *MemoryStore) save() error {
	if m.persist == nil {
		return nil
	}
	return m.persist(m.data)
}

func copyEntry(e Entry) Entry {
	e.Record = e.Record.Clone()
	return e
}

func (m *MemoryStore) Create(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data.Negotiations[e.ID]; exists {
		return ErrExists
	}
	now := m.clock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	if e.HeadHash == "" {
		e.HeadHash = GenesisHash
	}
	m.data.Negotiations[e.ID] = copyEntry(e)
	if err := m.save(); err != nil {
		delete(m.data.Negotiations, e.ID)
		return err
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.data.Negotiations[id]
	if !exists {
		return Entry{}, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) Commit(ctx context.Context, id string, expectedTurn uint64, rec negotiation.Record, t Transition) (Transition, error) {
	recordHash, err := RecordHash(rec)
	if err != nil {
		return Transition{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.data.Negotiations[id]
	if !exists {
		return Transition{}, ErrNotFound
	}
	if prev.Record.Turn != expectedTurn {
		return Transition{}, fmt.Errorf("%w: turn is %d, expected %d", ErrConflict, prev.Record.Turn, expectedTurn)
	}

	t.NegotiationID = id
	t.Turn = expectedTurn
	t.RecordHash = recordHash
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.clock()
	}
	if err := Seal(&t, prev.HeadHash); err != nil {
		return Transition{}, err
	}

	next := prev
	next.Record = rec.Clone()
	next.RecordHash = recordHash
	next.HeadHash = t.Hash
	next.UpdatedAt = t.CreatedAt

	m.data.Negotiations[id] = next
	m.data.Transitions[id] = append(m.data.Transitions[id], t)
	if err := m.save(); err != nil {
		m.data.Negotiations[id] = prev
		m.data.Transitions[id] = m.data.Transitions[id][:len(m.data.Transitions[id])-1]
		return Transition{}, err
	}
	return t, nil
}

func (m *MemoryStore) Transitions(ctx context.Context, id string) ([]Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.data.Negotiations[id]; !exists {
		return nil, ErrNotFound
	}
	return append(make([]Transition, 0, len(m.data.Transitions[id])), m.data.Transitions[id]...), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]Entry, 0, len(m.data.Negotiations))
	for _, e := range m.data.Negotiations {
		list = append(list, copyEntry(e))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}
