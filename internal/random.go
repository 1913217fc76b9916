package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"
)

const (
	sessionIDSize   = 32
	opaqueTokenSize = 32
	minCodeDigits   = 4
	maxCodeDigits   = 10
)

// ErrInvalidDigits is returned for numeric code lengths outside 4..10.
var ErrInvalidDigits = errors.New("invalid code digits")

// Issued is a secret plus the expiry the caller attached to it.
type Issued struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the value is past its expiry at now.
func (i Issued) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// NewSessionID returns 32 random bytes, base64url without padding.
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewNumericCode returns a uniformly random code of the given number of digits.
// Each digit is drawn independently, so codes are never sequential.
func NewNumericCode(digits int) (string, error) {
	if digits < minCodeDigits || digits > maxCodeDigits {
		return "", ErrInvalidDigits
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewOpaqueToken returns a URL-safe token carrying 256 bits of entropy.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// IssueNumericCode is NewNumericCode with an expiry of now+ttl.
func IssueNumericCode(digits int, ttl time.Duration, now time.Time) (Issued, error) {
	code, err := NewNumericCode(digits)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Value: code, ExpiresAt: now.Add(ttl)}, nil
}

// IssueOpaqueToken is NewOpaqueToken with an expiry of now+ttl.
func IssueOpaqueToken(ttl time.Duration, now time.Time) (Issued, error) {
	token, err := NewOpaqueToken()
	if err != nil {
		return Issued{}, err
	}
	return Issued{Value: token, ExpiresAt: now.Add(ttl)}, nil
}

// HashToken is the at-rest form of a code or token: hex SHA-256.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// MatchToken compares a presented value against a stored hash in constant time.
func MatchToken(presented, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	computed := HashToken(presented)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
