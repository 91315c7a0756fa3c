package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type HashConfig struct {
	Cost int `envconfig:"BCRYPT_COST" yaml:"bcrypt_cost" default:"12"`
}

// Hasher produces bcrypt hashes of shared secrets, such as the gateway secret
// the trusted-header auth strategy compares against.
type Hasher struct {
	cost int
}

func NewHasher(cfg HashConfig) *Hasher {
	cost := cfg.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 12
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("crypto: secret cannot be empty")
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to hash secret: %w", err)
	}
	return string(bytes), nil
}

func CheckSecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}
