package digest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_Sum(t *testing.T) {
	data := []byte("abc")

	tests := []struct {
		name      string
		algorithm string
		want      string
	}{
		{name: "md5", algorithm: "MD5", want: "900150983cd24fb0d6963f7d28e17f72"},
		{name: "sha1 with dash", algorithm: "SHA-1", want: "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{name: "sha256 lowercase", algorithm: "sha256", want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{name: "sha256 mixed case", algorithm: "Sha-256", want: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{name: "sha3-256", algorithm: "SHA3-256", want: "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Hasher{}.Sum(data, tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasher_SumAllRegistered(t *testing.T) {
	for name := range algorithms {
		got, err := Hasher{}.Sum([]byte("payload"), name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, got, name)
	}
}

func TestHasher_UnknownAlgorithm(t *testing.T) {
	_, err := Hasher{}.Sum([]byte("abc"), "CRC-99")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
	assert.False(t, Supported("CRC-99"))
	assert.True(t, Supported("BLAKE2b-512"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("ABC123", "abc123"))
	assert.True(t, Equal(" abc123", "abc123 "))
	assert.False(t, Equal("abc123", "def456"))
}
