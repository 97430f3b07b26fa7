// Package badger implements a persistent master file table and object id
// index backed by BadgerDB.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/mft"
)

// Table implements mft.Table using BadgerDB for persistence.
//
// Each record slot is one key holding the serialized FILE record, so the
// database content is byte-for-byte what would be written to the on-volume
// $MFT. Freed slots keep their record (not in use, advanced sequence number)
// so reuse yields a new sequence number.
//
// Thread Safety:
// Slot allocation is serialized by mu; reads and writes rely on BadgerDB's
// transactions.
type Table struct {
	db         *badger.DB
	recordSize int
	maxRecords uint64
	mu         sync.Mutex
}

var _ mft.Table = (*Table)(nil)

// Config contains configuration for a BadgerDB-backed table.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path"`

	// RecordSize is the fixed file record size (default: 1024)
	RecordSize int `mapstructure:"record_size"`

	// MaxRecords caps the number of record slots; 0 means unlimited
	MaxRecords uint64 `mapstructure:"max_records"`

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

// Open opens (or creates) a table at cfg.DBPath.
//
// An existing database must have been created with the same record size.
func Open(ctx context.Context, cfg Config) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recordSize := cfg.RecordSize
	if recordSize == 0 {
		recordSize = mft.DefaultRecordSize
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None) // records are small and mostly unique

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	t := &Table{db: db, recordSize: recordSize, maxRecords: cfg.MaxRecords}
	if err := t.checkGeometry(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("[MFT] badger table opened: path=%s record_size=%d", cfg.DBPath, recordSize)
	return t, nil
}

// checkGeometry stores the record size on first open and verifies it later.
func (t *Table) checkGeometry() error {
	return t.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyRecordSize))
		if errors.Is(err, badger.ErrKeyNotFound) {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(t.recordSize))
			return txn.Set([]byte(keyRecordSize), buf)
		}
		if err != nil {
			return fmt.Errorf("failed to read table geometry: %w", err)
		}

		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("malformed table geometry")
			}
			if stored := int(binary.LittleEndian.Uint32(val)); stored != t.recordSize {
				return fmt.Errorf("table was created with record size %d, not %d", stored, t.recordSize)
			}
			return nil
		})
	})
}

func (t *Table) RecordSize() int {
	return t.recordSize
}

// loadRecord reads a slot inside txn; it returns nil for never-used slots.
func loadRecord(txn *badger.Txn, index uint64) (*mft.FileRecord, error) {
	item, err := txn.Get(keyRecord(index))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", index, err)
	}

	rec := &mft.FileRecord{}
	err = item.Value(func(val []byte) error {
		return rec.UnmarshalBinary(val)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func storeRecord(txn *badger.Txn, rec *mft.FileRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return txn.Set(keyRecord(rec.Index), data)
}

func (t *Table) GetRecord(ctx context.Context, ref mft.FileReference) (*mft.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *mft.FileRecord
	err := t.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = loadRecord(txn, ref.Index)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.InUse() {
		return nil, fmt.Errorf("record %s: %w", ref, mft.ErrRecordNotFound)
	}
	if ref.Sequence != 0 && rec.Sequence != ref.Sequence {
		return nil, fmt.Errorf("record %s (current sequence %d): %w", ref, rec.Sequence, mft.ErrStaleReference)
	}
	return rec, nil
}

func (t *Table) WriteRecord(ctx context.Context, rec *mft.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.RecordSize() != t.recordSize {
		return fmt.Errorf("record %d has size %d, table uses %d", rec.Index, rec.RecordSize(), t.recordSize)
	}

	return t.db.Update(func(txn *badger.Txn) error {
		return storeRecord(txn, rec)
	})
}

func (t *Table) AllocateRecord(ctx context.Context, flags mft.RecordFlags) (*mft.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var rec *mft.FileRecord
	err := t.db.Update(func(txn *badger.Txn) error {
		for index := mft.FirstUserRecord; t.maxRecords == 0 || index < t.maxRecords; index++ {
			existing, err := loadRecord(txn, index)
			if err != nil {
				return err
			}
			if existing != nil && existing.InUse() {
				continue
			}
			rec, err = t.allocate(txn, index, existing, flags)
			return err
		}
		return mft.ErrTableFull
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Table) AllocateRecordAt(ctx context.Context, index uint64, flags mft.RecordFlags) (*mft.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var rec *mft.FileRecord
	err := t.db.Update(func(txn *badger.Txn) error {
		existing, err := loadRecord(txn, index)
		if err != nil {
			return err
		}
		if existing != nil && existing.InUse() {
			return fmt.Errorf("record %d: %w", index, mft.ErrRecordInUse)
		}
		rec, err = t.allocate(txn, index, existing, flags)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Table) allocate(txn *badger.Txn, index uint64, previous *mft.FileRecord, flags mft.RecordFlags) (*mft.FileRecord, error) {
	var prevSeq uint16
	if previous != nil {
		prevSeq = previous.Sequence
	}
	rec := mft.NewFileRecord(index, mft.NewRecordSequence(prevSeq), t.recordSize, flags|mft.RecordInUse)
	if err := storeRecord(txn, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Table) FreeRecord(ctx context.Context, ref mft.FileReference) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.db.Update(func(txn *badger.Txn) error {
		rec, err := loadRecord(txn, ref.Index)
		if err != nil {
			return err
		}
		if rec == nil || !rec.InUse() {
			return fmt.Errorf("record %s: %w", ref, mft.ErrRecordNotFound)
		}
		if ref.Sequence != 0 && rec.Sequence != ref.Sequence {
			return fmt.Errorf("record %s: %w", ref, mft.ErrStaleReference)
		}

		rec.Reset()
		rec.Flags = 0
		rec.Sequence = mft.FreedSequence(rec.Sequence)
		return storeRecord(txn, rec)
	})
}

func (t *Table) IsAllocated(ctx context.Context, index uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var live bool
	err := t.db.View(func(txn *badger.Txn) error {
		rec, err := loadRecord(txn, index)
		if err != nil {
			return err
		}
		live = rec != nil && rec.InUse()
		return nil
	})
	return live, err
}

func (t *Table) ForEach(ctx context.Context, fn func(*mft.FileRecord) error) error {
	return t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRecord)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			if _, err := indexFromKey(item.Key()); err != nil {
				return err
			}

			rec := &mft.FileRecord{}
			if err := item.Value(func(val []byte) error {
				return rec.UnmarshalBinary(val)
			}); err != nil {
				return err
			}
			if !rec.InUse() {
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Table) Close() error {
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// ObjectIDs returns the object id index sharing this table's database.
func (t *Table) ObjectIDs() *ObjectIDs {
	return &ObjectIDs{db: t.db}
}

// ObjectIDs implements the volume object id index on the table's BadgerDB.
type ObjectIDs struct {
	db *badger.DB
}

func (o *ObjectIDs) Add(ctx context.Context, entry mft.ObjectIDEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if entry.Registered.IsZero() {
		entry.Registered = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode object id entry: %w", err)
	}

	return o.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyObjectID(entry.ObjectID))
		if err == nil {
			return fmt.Errorf("object id %s: %w", entry.ObjectID, mft.ErrObjectIDExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check object id: %w", err)
		}
		return txn.Set(keyObjectID(entry.ObjectID), data)
	})
}

func (o *ObjectIDs) Remove(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return o.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyObjectID(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("object id %s: %w", id, mft.ErrObjectIDNotFound)
			}
			return fmt.Errorf("failed to check object id: %w", err)
		}
		return txn.Delete(keyObjectID(id))
	})
}

func (o *ObjectIDs) Get(ctx context.Context, id uuid.UUID) (mft.ObjectIDEntry, error) {
	if err := ctx.Err(); err != nil {
		return mft.ObjectIDEntry{}, err
	}

	var entry mft.ObjectIDEntry
	err := o.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyObjectID(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("object id %s: %w", id, mft.ErrObjectIDNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get object id: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	return entry, err
}
