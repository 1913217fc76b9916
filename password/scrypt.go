package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	minLogN       uint8  = 10
	maxLogN       uint8  = 20
	minBlockSize  int    = 1
	minParallel   int    = 1
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 32
	algorithmID          = "scrypt"
)

// Config holds the scrypt cost parameters. The cost is an operator-tuned
// constant and never derived from user input.
type Config struct {
	LogN        uint8
	BlockSize   int
	Parallelism int
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the production cost (N=2^15, r=8, p=1).
func DefaultConfig() Config {
	return Config{
		LogN:        15,
		BlockSize:   8,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   64,
	}
}

// Hasher hashes and verifies passwords. It holds no mutable state and is safe
// for concurrent use.
type Hasher struct {
	config Config
}

type parsedHash struct {
	logN        uint8
	blockSize   int
	parallelism int
	salt        []byte
	key         []byte
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// Hash enforces the password policy, then derives a key with a fresh random
// salt. Policy violations return ErrWeakPassword before any key derivation.
func (h *Hasher) Hash(password string) (string, error) {
	if err := CheckPolicy(password); err != nil {
		return "", err
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key, err := scrypt.Key(
		[]byte(password),
		salt,
		1<<h.config.LogN,
		h.config.BlockSize,
		h.config.Parallelism,
		int(h.config.KeyLength),
	)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"$%s$ln=%d,r=%d,p=%d$%s$%s",
		algorithmID,
		h.config.LogN,
		h.config.BlockSize,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key with the stored salt and parameters and compares
// in constant time. A malformed stored hash is an error, a mismatch is not.
func (h *Hasher) Verify(password string, encoded string) (bool, error) {
	parsed, err := parseHash(encoded)
	if err != nil {
		return false, err
	}

	computed, err := scrypt.Key(
		[]byte(password),
		parsed.salt,
		1<<parsed.logN,
		parsed.blockSize,
		parsed.parallelism,
		len(parsed.key),
	)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with a weaker cost than
// the hasher's current configuration.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := parseHash(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case h.config.LogN > parsed.logN:
		return true, nil
	case h.config.BlockSize > parsed.blockSize:
		return true, nil
	case h.config.Parallelism > parsed.parallelism:
		return true, nil
	case int(h.config.KeyLength) != len(parsed.key):
		return true, nil
	}
	return false, nil
}

func parseHash(encoded string) (*parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" {
		return nil, errors.New("invalid hash format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	parsed, err := parseParams(parts[2])
	if err != nil {
		return nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid key encoding")
	}
	if len(key) == 0 {
		return nil, errors.New("invalid key length")
	}

	parsed.salt = salt
	parsed.key = key
	return parsed, nil
}

func parseParams(part string) (*parsedHash, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		logNSet, blockSet, parallelSet bool
		parsed                         parsedHash
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "ln":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minLogN) || v > uint64(maxLogN) {
				return nil, errors.New("invalid ln parameter")
			}
			parsed.logN = uint8(v)
			logNSet = true
		case "r":
			v, err := strconv.Atoi(kv[1])
			if err != nil || v < minBlockSize {
				return nil, errors.New("invalid r parameter")
			}
			parsed.blockSize = v
			blockSet = true
		case "p":
			v, err := strconv.Atoi(kv[1])
			if err != nil || v < minParallel {
				return nil, errors.New("invalid p parameter")
			}
			parsed.parallelism = v
			parallelSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}

	if !logNSet || !blockSet || !parallelSet {
		return nil, errors.New("missing parameters")
	}

	return &parsed, nil
}

func validateConfig(cfg Config) error {
	if cfg.LogN < minLogN || cfg.LogN > maxLogN {
		return fmt.Errorf("password ln must be in [%d, %d]", minLogN, maxLogN)
	}
	if cfg.BlockSize < minBlockSize {
		return errors.New("password block size must be >= 1")
	}
	if cfg.Parallelism < minParallel {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 32")
	}
	return nil
}
