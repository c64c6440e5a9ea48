package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torg12-server/internal/analyzer"
	"torg12-server/internal/compression"
	"torg12-server/internal/policy"
	"torg12-server/internal/xlsx/xlsxtest"
)

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.MaxSessions == 0 {
		opts.MaxSessions = 8
	}
	if opts.MaxMemory == 0 {
		opts.MaxMemory = 64 << 20
	}
	s, err := NewStore(opts, compression.NewManager(5), nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func upload(t *testing.T, s *Store) (*Session, string, []byte) {
	t.Helper()
	data := xlsxtest.New(t).Value("A3", "Грузоотправитель").Value("C5", 12.5).Bytes()
	analysis, err := analyzer.New(policy.Default(), nil).Analyze(context.Background(), data)
	require.NoError(t, err)

	sess, token, err := s.Create("torg12.xlsx", data, analysis)
	require.NoError(t, err)
	return sess, token, data
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t, Options{})
	sess, _, data := upload(t, s)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "torg12.xlsx", sess.Metadata.Filename)
	assert.Equal(t, int64(len(data)), sess.Metadata.FileSize)
	assert.Len(t, sess.Metadata.Checksum, 64)
	assert.Equal(t, 2, sess.Index.Len())

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	original, err := got.Original()
	require.NoError(t, err)
	assert.Equal(t, data, original)
	assert.Equal(t, 1, s.Len())
}

func TestGetUnknown(t *testing.T) {
	s := newStore(t, Options{})
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve(t *testing.T) {
	s := newStore(t, Options{})
	sess, token, _ := upload(t, s)

	got, err := s.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	s.Delete(sess.ID)
	_, err = s.Resolve(token)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Resolve("garbage")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSingleFlight(t *testing.T) {
	s := newStore(t, Options{})
	sess, _, _ := upload(t, s)

	require.NoError(t, sess.TryAcquire())
	assert.True(t, sess.Busy())
	assert.ErrorIs(t, sess.TryAcquire(), ErrBusy)

	sess.Release()
	assert.False(t, sess.Busy())
	require.NoError(t, sess.TryAcquire())
	sess.Release()
}

func TestSingleFlightConcurrent(t *testing.T) {
	s := newStore(t, Options{})
	sess, _, _ := upload(t, s)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess.TryAcquire() == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
}

func TestLastOutput(t *testing.T) {
	s := newStore(t, Options{})
	sess, _, _ := upload(t, s)

	_, _, ok, err := sess.LastOutput()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sess.SetLastOutput("out.xlsx", []byte("workbook bytes")))
	name, data, ok, err := sess.LastOutput()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "out.xlsx", name)
	assert.Equal(t, []byte("workbook bytes"), data)
}

func TestSessionLimitEvicts(t *testing.T) {
	s := newStore(t, Options{MaxSessions: 1})
	first, _, _ := upload(t, s)
	second, _, _ := upload(t, s)

	_, err := s.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(second.ID)
	assert.NoError(t, err)
}

func TestStats(t *testing.T) {
	s := newStore(t, Options{TTL: time.Minute})
	sess, _, _ := upload(t, s)
	_, _ = s.Get(sess.ID)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Sessions)
	assert.Positive(t, stats.MemoryUsed)
	assert.Equal(t, int64(64<<20), stats.MemoryLimit)
	assert.Equal(t, int64(1), stats.Cache.Hits)
}
