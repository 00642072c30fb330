package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		idx[base58Alphabet[i]] = int8(i)
	}
	return idx
}()

// GenerateID returns a new row identifier.
func GenerateID() string {
	return uuid.NewString()
}

// NewAPIKey generates a raw API key and the sha-256 hash under which it is
// stored. The raw key is shown to the caller exactly once.
func NewAPIKey() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = "sk_" + hex.EncodeToString(buf)
	return raw, HashAPIKey(raw), nil
}

// HashAPIKey returns the hex sha-256 digest of a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Base58Encode encodes bytes in the Bitcoin base58 alphabet used for ledger
// addresses.
func Base58Encode(input []byte) string {
	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	num := new(big.Int).SetBytes(input)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// Base58Decode decodes a base58 string. Returns an error on characters
// outside the alphabet.
func Base58Decode(input string) ([]byte, error) {
	zeros := 0
	for zeros < len(input) && input[zeros] == base58Alphabet[0] {
		zeros++
	}

	num := new(big.Int)
	radix := big.NewInt(58)
	for i := 0; i < len(input); i++ {
		d := base58Index[input[i]]
		if d < 0 {
			return nil, fmt.Errorf("invalid base58 character %q at position %d", input[i], i)
		}
		num.Mul(num, radix)
		num.Add(num, big.NewInt(int64(d)))
	}

	decoded := num.Bytes()
	out := make([]byte, zeros+len(decoded))
	copy(out[zeros:], decoded)
	return out, nil
}

// IsValidAddress reports whether a string looks like a ledger address: a
// base58 string decoding to 32 bytes.
func IsValidAddress(address string) bool {
	raw, err := Base58Decode(address)
	return err == nil && len(raw) == 32
}
