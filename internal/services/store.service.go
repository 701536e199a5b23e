package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"sentinel/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

var (
	recordPrefix = []byte("rec/")
	keyCheckKey  = []byte("meta/keycheck")
)

const keyCheckPlaintext = "sentinel-key-check-v1"

// StoreOptions configures an EncryptedStore
type StoreOptions struct {
	// Path is the record table directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit
	SyncWrites bool

	Capacity int
	Limiter  *RateLimiter
	Cipher   *Cipher
	Clock    Clock
	Logger   logr.Logger
}

// EncryptedStore is a capacity-bounded table of encrypted MemoryRecords backed by BadgerDB.
// Records are write-once; the only mutation is importance-ordered eviction.
type EncryptedStore struct {
	mu       sync.RWMutex
	db       *badger.DB
	cipher   *Cipher
	limiter  *RateLimiter
	clock    *stampClock
	capacity int
	records  map[string]models.MemoryRecord
	seq      uint64
	logger   logr.Logger
}

// OpenEncryptedStore opens (or creates) the record table and verifies that the
// supplied key matches the one the table was created with.
func OpenEncryptedStore(opts StoreOptions) (*EncryptedStore, error) {
	if opts.Cipher == nil {
		return nil, ErrKeyMissing
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("store capacity must be at least 1, got %d", opts.Capacity)
	}
	logger := opts.Logger.WithName("store")

	db, err := openRecordTable(opts, logger)
	if err != nil {
		return nil, err
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(math.MaxInt32, opts.Clock)
	}

	s := &EncryptedStore{
		db:       db,
		cipher:   opts.Cipher,
		limiter:  limiter,
		clock:    newStampClock(opts.Clock),
		capacity: opts.Capacity,
		records:  make(map[string]models.MemoryRecord),
		logger:   logger,
	}

	if err := s.verifyKey(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load records: %w", err)
	}

	logger.Info("record table opened", "records", len(s.records), "capacity", s.capacity, "key", s.cipher.Fingerprint())
	return s, nil
}

func openRecordTable(opts StoreOptions, logger logr.Logger) (*badger.DB, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("path is required for persistent record table")
		}
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create record table directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.WithName("badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open record table: %w", err)
	}
	return db, nil
}

// verifyKey refuses a key that cannot open the table's key check, so a
// wrong key is a startup error rather than a table of undecryptable records.
func (s *EncryptedStore) verifyKey() error {
	var stored []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCheckKey)
		if err != nil {
			return err
		}
		stored, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		sealed, err := s.cipher.Seal([]byte(keyCheckPlaintext))
		if err != nil {
			return err
		}
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(keyCheckKey, sealed)
		})
	case err != nil:
		return fmt.Errorf("read key check: %w", err)
	}

	plain, err := s.cipher.Open(stored)
	if err != nil || string(plain) != keyCheckPlaintext {
		return ErrKeyMismatch
	}
	return nil
}

func (s *EncryptedStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			var rec models.MemoryRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				s.logger.Error(err, "skipping unreadable record", "key", string(it.Item().Key()))
				continue
			}
			s.records[rec.ID] = rec
			if rec.Seq > s.seq {
				s.seq = rec.Seq
			}
			s.clock.observe(rec.Timestamp)
		}
		return nil
	})
}

// Store encrypts and persists content, then evicts the least important records
// beyond capacity. The new record itself is evicted if it ranks last. A call that
// fails after admission gives its rate-limit slot back.
func (s *EncryptedStore) Store(content, sourceTag string, importance float64) (string, error) {
	if math.IsNaN(importance) || importance < 0 || importance > 1 {
		return "", ErrInvalidImportance
	}
	if !s.limiter.Allow() {
		return "", ErrRateLimitExceeded
	}

	sealed, err := s.cipher.Seal([]byte(content))
	if err != nil {
		s.limiter.Release()
		return "", fmt.Errorf("encrypt record: %w", err)
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.MemoryRecord{
		ID:               id,
		Timestamp:        s.clock.Now(),
		Seq:              s.seq + 1,
		EncryptedContent: sealed,
		SourceTag:        sourceTag,
		Importance:       importance,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.limiter.Release()
		return "", fmt.Errorf("encode record: %w", err)
	}

	victims := s.evictionCandidates(rec)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return err
		}
		for _, v := range victims {
			if err := txn.Delete(recordKey(v.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.limiter.Release()
		return "", fmt.Errorf("persist record: %w", err)
	}

	s.seq = rec.Seq
	s.records[rec.ID] = rec
	for _, v := range victims {
		delete(s.records, v.ID)
	}
	if len(victims) > 0 {
		s.logger.V(1).Info("evicted records", "count", len(victims), "capacity", s.capacity)
	}
	storeRecordsGauge.Set(float64(len(s.records)))
	return id, nil
}

// evictionCandidates picks the records to delete once incoming is added:
// lowest importance first, oldest first among equals. Caller holds mu.
func (s *EncryptedStore) evictionCandidates(incoming models.MemoryRecord) []models.MemoryRecord {
	excess := len(s.records) + 1 - s.capacity
	if excess <= 0 {
		return nil
	}
	all := make([]models.MemoryRecord, 0, len(s.records)+1)
	for _, r := range s.records {
		all = append(all, r)
	}
	all = append(all, incoming)
	sort.Slice(all, func(i, j int) bool {
		return ranksBelow(all[i], all[j])
	})
	return all[:excess]
}

// ranksBelow orders records from first-evicted to last-evicted
func ranksBelow(a, b models.MemoryRecord) bool {
	if a.Importance != b.Importance {
		return a.Importance < b.Importance
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

// Retrieve returns up to limit records, most important first and newest first
// among equals. limit <= 0 returns everything.
func (s *EncryptedStore) Retrieve(limit int) []models.MemoryRecord {
	s.mu.RLock()
	out := make([]models.MemoryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return ranksBelow(out[j], out[i])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns one record by id
func (s *EncryptedStore) Get(id string) (models.MemoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Decrypt opens a record's content. Failures degrade to empty content with
// Status=failed so a corrupt record never takes the caller down.
func (s *EncryptedStore) Decrypt(rec models.MemoryRecord) models.DecryptResult {
	if len(rec.EncryptedContent) == 0 {
		return models.DecryptResult{Status: models.DecryptEmpty}
	}
	plain, err := s.cipher.Open(rec.EncryptedContent)
	if err != nil {
		s.logger.Error(err, "record could not be decrypted", "id", rec.ID)
		decryptFailuresTotal.Inc()
		return models.DecryptResult{Status: models.DecryptFailed, Err: err}
	}
	if len(plain) == 0 {
		return models.DecryptResult{Status: models.DecryptEmpty}
	}
	return models.DecryptResult{Content: string(plain), Status: models.DecryptOK}
}

// Count returns the number of live records
func (s *EncryptedStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SetCapacity changes the record ceiling; the next Store enforces it
func (s *EncryptedStore) SetCapacity(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.capacity = n
	s.mu.Unlock()
}

// Close flushes and closes the record table
func (s *EncryptedStore) Close() error {
	return s.db.Close()
}

func recordKey(id string) []byte {
	return append(append([]byte(nil), recordPrefix...), id...)
}

// badgerLogger adapts logr to BadgerDB's Logger interface
type badgerLogger struct {
	logger logr.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(nil, fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), "level", "warning")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.V(1).Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.V(2).Info(fmt.Sprintf(format, args...))
}
