package mft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTable implements Table in memory.
//
// Records are stored serialized, so size limits and copy semantics match the
// persistent implementations exactly.
type MemoryTable struct {
	mu         sync.RWMutex
	recordSize int
	maxRecords uint64
	slots      map[uint64][]byte
}

var _ Table = (*MemoryTable)(nil)

// NewMemoryTable creates an empty table. maxRecords of 0 means unlimited.
func NewMemoryTable(recordSize int, maxRecords uint64) *MemoryTable {
	if recordSize == 0 {
		recordSize = DefaultRecordSize
	}
	return &MemoryTable{
		recordSize: recordSize,
		maxRecords: maxRecords,
		slots:      make(map[uint64][]byte),
	}
}

func (t *MemoryTable) RecordSize() int {
	return t.recordSize
}

func (t *MemoryTable) load(index uint64) (*FileRecord, error) {
	data, ok := t.slots[index]
	if !ok {
		return nil, nil
	}
	rec := &FileRecord{}
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *MemoryTable) store(rec *FileRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	t.slots[rec.Index] = data
	return nil
}

func (t *MemoryTable) GetRecord(ctx context.Context, ref FileReference) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, err := t.load(ref.Index)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.InUse() {
		return nil, fmt.Errorf("record %s: %w", ref, ErrRecordNotFound)
	}
	if ref.Sequence != 0 && rec.Sequence != ref.Sequence {
		return nil, fmt.Errorf("record %s (current sequence %d): %w", ref, rec.Sequence, ErrStaleReference)
	}
	return rec, nil
}

func (t *MemoryTable) WriteRecord(ctx context.Context, rec *FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.recordSize == 0 {
		rec.recordSize = t.recordSize
	}
	if rec.recordSize != t.recordSize {
		return fmt.Errorf("record %d has size %d, table uses %d", rec.Index, rec.recordSize, t.recordSize)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store(rec)
}

func (t *MemoryTable) AllocateRecord(ctx context.Context, flags RecordFlags) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for index := FirstUserRecord; t.maxRecords == 0 || index < t.maxRecords; index++ {
		existing, err := t.load(index)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.InUse() {
			continue
		}
		return t.allocateLocked(index, existing, flags)
	}
	return nil, ErrTableFull
}

func (t *MemoryTable) AllocateRecordAt(ctx context.Context, index uint64, flags RecordFlags) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := t.load(index)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.InUse() {
		return nil, fmt.Errorf("record %d: %w", index, ErrRecordInUse)
	}
	return t.allocateLocked(index, existing, flags)
}

func (t *MemoryTable) allocateLocked(index uint64, previous *FileRecord, flags RecordFlags) (*FileRecord, error) {
	var prevSeq uint16
	if previous != nil {
		prevSeq = previous.Sequence
	}
	rec := NewFileRecord(index, NewRecordSequence(prevSeq), t.recordSize, flags|RecordInUse)
	if err := t.store(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *MemoryTable) FreeRecord(ctx context.Context, ref FileReference) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.load(ref.Index)
	if err != nil {
		return err
	}
	if rec == nil || !rec.InUse() {
		return fmt.Errorf("record %s: %w", ref, ErrRecordNotFound)
	}
	if ref.Sequence != 0 && rec.Sequence != ref.Sequence {
		return fmt.Errorf("record %s: %w", ref, ErrStaleReference)
	}

	rec.Reset()
	rec.Flags = 0
	rec.Sequence = FreedSequence(rec.Sequence)
	return t.store(rec)
}

func (t *MemoryTable) IsAllocated(ctx context.Context, index uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, err := t.load(index)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.InUse(), nil
}

func (t *MemoryTable) ForEach(ctx context.Context, fn func(*FileRecord) error) error {
	t.mu.RLock()
	indexes := make([]uint64, 0, len(t.slots))
	for index := range t.slots {
		indexes = append(indexes, index)
	}
	t.mu.RUnlock()
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, index := range indexes {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.mu.RLock()
		rec, err := t.load(index)
		t.mu.RUnlock()
		if err != nil {
			return err
		}
		if rec == nil || !rec.InUse() {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryTable) Close() error {
	return nil
}

// MemoryObjectIDs is an in-memory object id index.
type MemoryObjectIDs struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]ObjectIDEntry
}

// NewMemoryObjectIDs creates an empty object id index.
func NewMemoryObjectIDs() *MemoryObjectIDs {
	return &MemoryObjectIDs{entries: make(map[uuid.UUID]ObjectIDEntry)}
}

func (m *MemoryObjectIDs) Add(ctx context.Context, entry ObjectIDEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.ObjectID]; ok {
		return fmt.Errorf("object id %s: %w", entry.ObjectID, ErrObjectIDExists)
	}
	if entry.Registered.IsZero() {
		entry.Registered = time.Now()
	}
	m.entries[entry.ObjectID] = entry
	return nil
}

func (m *MemoryObjectIDs) Remove(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("object id %s: %w", id, ErrObjectIDNotFound)
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryObjectIDs) Get(ctx context.Context, id uuid.UUID) (ObjectIDEntry, error) {
	if err := ctx.Err(); err != nil {
		return ObjectIDEntry{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[id]
	if !ok {
		return ObjectIDEntry{}, fmt.Errorf("object id %s: %w", id, ErrObjectIDNotFound)
	}
	return entry, nil
}

// Len returns the number of registered object ids.
func (m *MemoryObjectIDs) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
