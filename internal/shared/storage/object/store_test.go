package object

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerKeyIsStableHex(t *testing.T) {
	got := OwnerKey("user-123")
	assert.Equal(t, got, OwnerKey("user-123"))
	assert.Len(t, got, 64)
	assert.NotContains(t, got, "user")
}

func TestNewKey(t *testing.T) {
	key, err := NewKey("user-1", "용역 계약서.pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "contracts/"+OwnerKey("user-1")+"/"))
	assert.True(t, strings.HasSuffix(key, "_용역 계약서.pdf"))

	other, err := NewKey("user-1", "용역 계약서.pdf")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestSanitizeFileName(t *testing.T) {
	got, err := SanitizeFileName(" a/b\\c.pdf ")
	require.NoError(t, err)
	assert.Equal(t, "a_b_c.pdf", got)

	_, err = SanitizeFileName("../etc/passwd")
	assert.Error(t, err)
	_, err = SanitizeFileName("   ")
	assert.Error(t, err)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "contracts/a/b.pdf", want: "contracts/a/b.pdf"},
		{key: "contracts//a/./b.pdf", want: "contracts/a/b.pdf"},
		{key: "../secret", wantErr: true},
		{key: "/abs/path", wantErr: true},
		{key: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := CleanKey(tc.key)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidKey, tc.key)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
