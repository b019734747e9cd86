package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid marks a malformed or tampered download token.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired marks a well-formed token past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedLink is the payload carried by a download token.
type SignedLink struct {
	FileID      int64
	StoragePath string
	ExpiresAt   time.Time
}

// SignedURLSigner creates and validates signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token bound to the file and its current blob. Replacing the
// file changes the blob key, so older tokens stop resolving.
func (s *SignedURLSigner) Generate(fileID int64, storagePath string) (string, time.Time, error) {
	if fileID <= 0 || storagePath == "" {
		return "", time.Time{}, fmt.Errorf("file id and storage path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	id := strconv.FormatInt(fileID, 10)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(storagePath))
	token := strings.Join([]string{id, ts, encodedPath, s.sign(id, ts, encodedPath)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded link.
func (s *SignedURLSigner) Parse(token string) (SignedLink, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedLink{}, ErrTokenInvalid
	}
	id, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(id, ts, encodedPath)), []byte(signature)) {
		return SignedLink{}, ErrTokenInvalid
	}

	fileID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return SignedLink{}, ErrTokenInvalid
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SignedLink{}, ErrTokenInvalid
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return SignedLink{}, ErrTokenInvalid
	}

	link := SignedLink{FileID: fileID, StoragePath: string(rawPath), ExpiresAt: time.Unix(expUnix, 0)}
	if s.now().After(link.ExpiresAt) {
		return SignedLink{}, ErrTokenExpired
	}
	return link, nil
}

func (s *SignedURLSigner) sign(id, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(id + "|" + ts + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
