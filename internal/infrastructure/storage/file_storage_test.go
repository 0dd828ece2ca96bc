package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileStorage_RoundTrip(t *testing.T) {
	s := NewLocalFileStorage(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "audit/2025-03.xlsx", []byte("xlsx")))
	assert.True(t, s.Exists(ctx, "audit/2025-03.xlsx"))

	content, err := s.Read(ctx, "audit/2025-03.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", string(content))

	require.NoError(t, s.Save(ctx, "audit/2025-03.xlsx", []byte("v2")))
	content, err = s.Read(ctx, "audit/2025-03.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	names, err := s.List(ctx, "audit")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03.xlsx"}, names)

	require.NoError(t, s.Delete(ctx, "audit/2025-03.xlsx"))
	require.NoError(t, s.Delete(ctx, "audit/2025-03.xlsx"))
	assert.False(t, s.Exists(ctx, "audit/2025-03.xlsx"))

	names, err = s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalFileStorage_RejectsEscapes(t *testing.T) {
	s := NewLocalFileStorage(t.TempDir(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.Save(ctx, "../outside.txt", []byte("x")), ErrPathEscapes)
	_, err := s.Read(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapes)
	assert.False(t, s.Exists(ctx, "../outside.txt"))
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"nightly":            "nightly",
		"../../etc/passwd":   "etcpasswd",
		"release 2025/03":    "release202503",
		"plan_v1.2-final":    "plan_v1.2-final",
		"rm -rf; echo pwned": "rm-rfechopwned",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}
