// Package session keeps uploaded workbooks and their analyses between
// requests. Each session allows one modify or validate job at a time.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"torg12-server/internal/cache"
	"torg12-server/internal/compression"
	"torg12-server/internal/index"
	"torg12-server/internal/models"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session is busy")
)

// recordCost approximates the in-memory footprint of one analysed cell for
// cache accounting.
const recordCost = 512

type Session struct {
	ID       string
	Metadata models.FileMetadata
	Analysis *models.Analysis
	Index    *index.StyleIndex

	codec    *compression.Manager
	original []byte

	mu         sync.Mutex
	busy       bool
	lastOutput []byte
	lastName   string
}

// Original returns the uploaded workbook bytes.
func (s *Session) Original() ([]byte, error) {
	data, err := s.codec.Decompress(s.original, compression.MethodBrotli)
	if err != nil {
		return nil, fmt.Errorf("failed to restore upload: %w", err)
	}
	return data, nil
}

// TryAcquire marks the session busy, or returns ErrBusy if a job is already
// running on it.
func (s *Session) TryAcquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busy = false
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.busy
}

// SetLastOutput remembers the most recent modified workbook.
func (s *Session) SetLastOutput(filename string, data []byte) error {
	packed, err := s.codec.Compress(data, compression.MethodBrotli)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastOutput = packed
	s.lastName = filename
	return nil
}

// LastOutput returns the most recent modified workbook, if any.
func (s *Session) LastOutput() (string, []byte, bool, error) {
	s.mu.Lock()
	packed, name := s.lastOutput, s.lastName
	s.mu.Unlock()

	if packed == nil {
		return "", nil, false, nil
	}
	data, err := s.codec.Decompress(packed, compression.MethodBrotli)
	if err != nil {
		return "", nil, false, err
	}
	return name, data, true, nil
}

type Options struct {
	MaxSessions     int
	MaxMemory       int64
	TTL             time.Duration
	HotTTL          time.Duration
	CleanupInterval time.Duration
	TokenMaxAge     time.Duration
}

// Store holds sessions in a SmartCache keyed by session id.
type Store struct {
	cache  *cache.SmartCache
	codec  *compression.Manager
	tokens *TokenManager
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(opts Options, codec *compression.Manager, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		codec:  codec,
		tokens: NewTokenManager(opts.TokenMaxAge),
		logger: logger,
		now:    time.Now,
	}

	c, err := cache.NewSmartCache(cache.Options{
		MaxEntries:      opts.MaxSessions,
		MaxMemory:       opts.MaxMemory,
		DefaultTTL:      opts.TTL,
		HotTTL:          opts.HotTTL,
		HotThreshold:    3,
		CleanupInterval: opts.CleanupInterval,
		OnEvict: func(key string, _ interface{}) {
			logger.Debug("Session evicted", zap.String("session", key))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	s.cache = c

	return s, nil
}

// Create stores an upload and its analysis and returns the new session with
// a token for it.
func (s *Store) Create(filename string, data []byte, analysis *models.Analysis) (*Session, string, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	packed, err := s.codec.Compress(data, compression.MethodBrotli)
	if err != nil {
		return nil, "", fmt.Errorf("failed to compress upload: %w", err)
	}

	idx, skipped := index.New(analysis.Records)
	if len(skipped) > 0 {
		s.logger.Warn("Records left out of index", zap.Strings("addresses", skipped))
	}

	sess := &Session{
		ID: uuid.New().String(),
		Metadata: models.FileMetadata{
			Filename:   filename,
			Checksum:   checksum,
			FileSize:   int64(len(data)),
			UploadedAt: s.now(),
		},
		Analysis: analysis,
		Index:    idx,
		codec:    s.codec,
		original: packed,
	}

	size := int64(len(packed)) + int64(len(analysis.Records))*recordCost
	if err := s.cache.Set(sess.ID, sess, size); err != nil {
		return nil, "", fmt.Errorf("failed to store session: %w", err)
	}

	token, err := s.tokens.Generate(sess.ID, checksum)
	if err != nil {
		s.cache.Delete(sess.ID)
		return nil, "", err
	}

	s.logger.Info("Session created",
		zap.String("session", sess.ID),
		zap.String("filename", filename),
		zap.Int64("size", sess.Metadata.FileSize),
		zap.Int64("stored", int64(len(packed))),
		zap.Int("records", len(analysis.Records)),
	)

	return sess, token, nil
}

func (s *Store) Get(id string) (*Session, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*Session), nil
}

// Resolve returns the session named by token after checking that the token
// still matches its upload.
func (s *Store) Resolve(token string) (*Session, error) {
	data, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	sess, err := s.Get(data.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.tokens.Verify(token, sess.Metadata.Checksum); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

func (s *Store) Len() int {
	return s.cache.Len()
}

type Stats struct {
	Sessions    int              `json:"sessions"`
	MemoryUsed  int64            `json:"memory_used"`
	MemoryLimit int64            `json:"memory_limit"`
	HitRatio    float64          `json:"hit_ratio"`
	Cache       cache.CacheStats `json:"cache"`
}

func (s *Store) Stats() Stats {
	used, limit := s.cache.GetMemoryUsage()
	return Stats{
		Sessions:    s.cache.Len(),
		MemoryUsed:  used,
		MemoryLimit: limit,
		HitRatio:    s.cache.GetHitRatio(),
		Cache:       s.cache.GetStats(),
	}
}

// Close stops background expiry.
func (s *Store) Close() {
	s.cache.Close()
}
