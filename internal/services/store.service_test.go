package services

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemStore(t *testing.T, capacity int, clock Clock, limiter *RateLimiter) *EncryptedStore {
	t.Helper()
	s, err := OpenEncryptedStore(StoreOptions{
		InMemory: true,
		Capacity: capacity,
		Limiter:  limiter,
		Cipher:   newTestCipher(t),
		Clock:    clock,
		Logger:   testr.New(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func importances(s *EncryptedStore) []float64 {
	out := []float64{}
	for _, r := range s.Retrieve(0) {
		out = append(out, r.Importance)
	}
	return out
}

func TestStoreAndDecrypt(t *testing.T) {
	s := openMemStore(t, 10, newFakeClock(), nil)

	id, err := s.Store("the cache lives in /var/lib", "notes", 0.7)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "notes", rec.SourceTag)
	assert.NotContains(t, string(rec.EncryptedContent), "cache")

	res := s.Decrypt(rec)
	assert.Equal(t, "ok", string(res.Status))
	assert.Equal(t, "the cache lives in /var/lib", res.Content)
}

func TestStoreRejectsInvalidImportance(t *testing.T) {
	s := openMemStore(t, 10, newFakeClock(), nil)
	for _, imp := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := s.Store("x", "t", imp)
		assert.ErrorIs(t, err, ErrInvalidImportance)
	}
	assert.Equal(t, 0, s.Count())
}

func TestStoreRateLimited(t *testing.T) {
	clock := newFakeClock()
	s := openMemStore(t, 10, clock, NewRateLimiter(2, clock))

	_, err := s.Store("a", "t", 0.5)
	require.NoError(t, err)
	_, err = s.Store("b", "t", 0.5)
	require.NoError(t, err)
	_, err = s.Store("c", "t", 0.5)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 2, s.Count())

	clock.Advance(time.Minute + time.Second)
	_, err = s.Store("c", "t", 0.5)
	assert.NoError(t, err)
}

func TestStoreEvictsLowestImportance(t *testing.T) {
	clock := newFakeClock()
	s := openMemStore(t, 3, clock, nil)

	for _, imp := range []float64{0.5, 0.9, 0.1, 0.7} {
		_, err := s.Store(fmt.Sprint(imp), "t", imp)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, []float64{0.9, 0.7, 0.5}, importances(s))

	// the incoming record is itself evicted when it ranks last
	id, err := s.Store("low", "t", 0.05)
	require.NoError(t, err)
	_, ok := s.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 3, s.Count())
}

func TestStoreEvictionTieBreaksOldestFirst(t *testing.T) {
	clock := newFakeClock()
	s := openMemStore(t, 2, clock, nil)

	first, err := s.Store("first", "t", 0.5)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := s.Store("second", "t", 0.5)
	require.NoError(t, err)
	clock.Advance(time.Second)
	third, err := s.Store("third", "t", 0.5)
	require.NoError(t, err)

	_, ok := s.Get(first)
	assert.False(t, ok)

	got := s.Retrieve(0)
	require.Len(t, got, 2)
	assert.Equal(t, third, got[0].ID, "newest first among equal importance")
	assert.Equal(t, second, got[1].ID)
}

func TestStoreSameTimestampFallsBackToSequence(t *testing.T) {
	s := openMemStore(t, 1, newFakeClock(), nil)

	first, err := s.Store("a", "t", 0.5)
	require.NoError(t, err)
	second, err := s.Store("b", "t", 0.5)
	require.NoError(t, err)

	_, ok := s.Get(first)
	assert.False(t, ok)
	_, ok = s.Get(second)
	assert.True(t, ok)
}

func TestStoreSurvivorsIndependentOfInsertionOrder(t *testing.T) {
	imps := []float64{0.3, 0.8, 0.1, 0.95, 0.5, 0.6, 0.2, 0.75}
	want := append([]float64(nil), imps...)
	sort.Sort(sort.Reverse(sort.Float64Slice(want)))
	want = want[:4]

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		order := append([]float64(nil), imps...)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		clock := newFakeClock()
		s := openMemStore(t, 4, clock, nil)
		for _, imp := range order {
			_, err := s.Store("x", "t", imp)
			require.NoError(t, err)
			clock.Advance(time.Second)
		}
		assert.Equal(t, want, importances(s), "order %v", order)
	}
}

func TestRetrieveIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	s := openMemStore(t, 10, clock, nil)
	for i := 0; i < 6; i++ {
		_, err := s.Store(fmt.Sprint(i), "t", float64(i%3)/3)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	first := s.Retrieve(4)
	second := s.Retrieve(4)
	assert.Len(t, first, 4)
	assert.Equal(t, first, second)
	assert.Equal(t, 6, s.Count())
}

func TestStoreConcurrentWritesRespectCapacity(t *testing.T) {
	s := openMemStore(t, 20, nil, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := s.Store("x", "t", float64(g*10+i)/100)
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	got := importances(s)
	require.Len(t, got, 20)
	assert.InDelta(t, 0.79, got[0], 1e-9)
	assert.InDelta(t, 0.60, got[19], 1e-9)
}

func TestSetCapacityAppliesOnNextStore(t *testing.T) {
	clock := newFakeClock()
	s := openMemStore(t, 5, clock, nil)
	for i := 0; i < 5; i++ {
		_, err := s.Store("x", "t", float64(i)/10)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	s.SetCapacity(2)
	assert.Equal(t, 5, s.Count())
	_, err := s.Store("y", "t", 0.9)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.4}, importances(s))
}

func TestDecryptFailureIsFlagged(t *testing.T) {
	s := openMemStore(t, 5, newFakeClock(), nil)
	id, err := s.Store("hello", "t", 0.5)
	require.NoError(t, err)
	rec, _ := s.Get(id)

	rec.EncryptedContent = append([]byte(nil), rec.EncryptedContent...)
	rec.EncryptedContent[len(rec.EncryptedContent)-1] ^= 0xff
	res := s.Decrypt(rec)
	assert.Equal(t, "failed", string(res.Status))
	assert.Empty(t, res.Content)
	assert.ErrorIs(t, res.Err, ErrDecryption)

	rec.EncryptedContent = nil
	assert.Equal(t, "empty", string(s.Decrypt(rec).Status))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	key, err := GenerateKey()
	require.NoError(t, err)
	keyCopy := func() []byte { return append([]byte(nil), key...) }

	open := func(k []byte) (*EncryptedStore, error) {
		c, err := NewCipher(k)
		require.NoError(t, err)
		return OpenEncryptedStore(StoreOptions{Path: dir, Capacity: 10, Cipher: c, Logger: testr.New(t)})
	}

	s, err := open(keyCopy())
	require.NoError(t, err)
	id, err := s.Store("durable", "t", 0.4)
	require.NoError(t, err)
	stamp, _ := s.Get(id)
	require.NoError(t, s.Close())

	s, err = open(keyCopy())
	require.NoError(t, err)
	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "durable", s.Decrypt(rec).Content)

	next, err := s.Store("later", "t", 0.4)
	require.NoError(t, err)
	later, _ := s.Get(next)
	assert.False(t, later.Timestamp.Before(stamp.Timestamp))
	assert.Greater(t, later.Seq, stamp.Seq)
	require.NoError(t, s.Close())

	other, err := GenerateKey()
	require.NoError(t, err)
	_, err = open(other)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestStoreFailureReturnsRateLimitSlot(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(2, clock)
	s := openMemStore(t, 10, clock, limiter)

	_, err := s.Store("a", "t", 0.5)
	require.NoError(t, err)
	require.Equal(t, 1, limiter.Remaining())

	require.NoError(t, s.db.Close())
	for i := 0; i < 3; i++ {
		_, err = s.Store("b", "t", 0.5)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRateLimitExceeded)
	}
	assert.Equal(t, 1, limiter.Remaining())
}
