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

// ErrInvalidToken is returned for malformed, tampered or expired download tokens.
var ErrInvalidToken = errors.New("invalid download token")

// SignedURLSigner creates and validates signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token referencing handle, valid for the signer TTL.
func (s *SignedURLSigner) Generate(handle string) (string, time.Time, error) {
	if handle == "" {
		return "", time.Time{}, fmt.Errorf("handle required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(handle))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{ts, encoded, s.sign(ts, encoded)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the handle it references.
func (s *SignedURLSigner) Parse(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: format", ErrInvalidToken)
	}
	ts, encoded, signature := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(s.sign(ts, encoded)), []byte(signature)) {
		return "", fmt.Errorf("%w: signature", ErrInvalidToken)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: timestamp", ErrInvalidToken)
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: handle", ErrInvalidToken)
	}
	return string(raw), nil
}

func (s *SignedURLSigner) sign(ts, encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(ts + "|" + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
