package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"torg12-server/internal/models"
)

var (
	ErrTokenInvalid = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
	ErrTokenStale   = errors.New("session token does not match the stored upload")
)

// DefaultTokenMaxAge bounds how long a token may be presented.
const DefaultTokenMaxAge = 24 * time.Hour

// TokenManager encodes session handles as base64url JSON. Tokens carry the
// upload checksum so a handle to a replaced upload is rejected.
type TokenManager struct {
	version int
	maxAge  time.Duration
	now     func() time.Time
}

func NewTokenManager(maxAge time.Duration) *TokenManager {
	if maxAge <= 0 {
		maxAge = DefaultTokenMaxAge
	}
	return &TokenManager{
		version: models.TokenVersion,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

func (m *TokenManager) Generate(sessionID, checksum string) (string, error) {
	data := models.TokenData{
		SessionID: sessionID,
		Checksum:  checksum,
		Version:   m.version,
		Timestamp: m.now().Unix(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}

	return base64.URLEncoding.EncodeToString(jsonData), nil
}

func (m *TokenManager) Parse(token string) (*models.TokenData, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var data models.TokenData
	if err := json.Unmarshal(decoded, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if data.Version != m.version {
		return nil, fmt.Errorf("%w: version mismatch: expected %d, got %d",
			ErrTokenInvalid, m.version, data.Version)
	}
	if data.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrTokenInvalid)
	}

	if m.now().Sub(time.Unix(data.Timestamp, 0)) > m.maxAge {
		return nil, ErrTokenExpired
	}

	return &data, nil
}

// Verify parses token and checks it against the stored upload checksum.
func (m *TokenManager) Verify(token, checksum string) (*models.TokenData, error) {
	data, err := m.Parse(token)
	if err != nil {
		return nil, err
	}
	if data.Checksum != checksum {
		return nil, ErrTokenStale
	}
	return data, nil
}
