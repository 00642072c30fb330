package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase58RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0},
		{0, 0, 1},
		{255},
		{1, 2, 3, 4, 5},
		make([]byte, 32),
	}
	for _, input := range cases {
		encoded := Base58Encode(input)
		decoded, err := Base58Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, input, decoded)
	}
}

func TestBase58KnownVector(t *testing.T) {
	// "hello world" in the Bitcoin alphabet.
	assert.Equal(t, "StV1DL6CwTryKyV", Base58Encode([]byte("hello world")))

	decoded, err := Base58Decode("StV1DL6CwTryKyV")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), decoded)
}

func TestBase58LeadingZeros(t *testing.T) {
	encoded := Base58Encode([]byte{0, 0, 0, 7})
	assert.True(t, strings.HasPrefix(encoded, "111"))

	decoded, err := Base58Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 7}, decoded)
}

func TestBase58DecodeInvalidCharacter(t *testing.T) {
	// 0, O, I and l are not in the alphabet.
	for _, input := range []string{"0", "O", "I", "l", "ab!cd"} {
		_, err := Base58Decode(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestIsValidAddress(t *testing.T) {
	valid := Base58Encode(make([]byte, 32))
	assert.True(t, IsValidAddress(valid))

	assert.False(t, IsValidAddress(""))
	assert.False(t, IsValidAddress("tooshort"))
	assert.False(t, IsValidAddress("0invalid"))
	assert.False(t, IsValidAddress(Base58Encode(make([]byte, 20))))
}

func TestNewAPIKey(t *testing.T) {
	raw, hash, err := NewAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "sk_"))
	assert.Len(t, hash, 64)
	assert.Equal(t, HashAPIKey(raw), hash)

	raw2, _, err := NewAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}

func TestGenerateID(t *testing.T) {
	assert.NotEqual(t, GenerateID(), GenerateID())
}
