package vault

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devark-ai/devark/internal/config"
)

func testVault(t *testing.T) (*Vault, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewStore(filepath.Join(dir, "config.json"))
	t.Cleanup(func() { cfg.Close() })
	return New(cfg, filepath.Join(dir, ".key")), dir
}

func TestVault_RoundTrip(t *testing.T) {
	v, _ := testVault(t)

	require.NoError(t, v.StoreToken("super-secret-api-key-12345"))

	got, ok := v.GetToken()
	require.True(t, ok)
	assert.Equal(t, "super-secret-api-key-12345", got)
	assert.True(t, v.HasToken())
}

func TestVault_RoundTripAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	keyPath := filepath.Join(dir, ".key")

	first := New(config.NewStore(cfgPath), keyPath)
	require.NoError(t, first.StoreToken("super-secret-api-key-12345"))

	// Fresh instances over the same filesystem must round-trip.
	second := New(config.NewStore(cfgPath), keyPath)
	got, ok := second.GetToken()
	require.True(t, ok)
	assert.Equal(t, "super-secret-api-key-12345", got)
}

func TestVault_RandomIV(t *testing.T) {
	v, _ := testVault(t)
	cfg := v.cfg

	require.NoError(t, v.StoreToken("identical-token-value"))
	first := cfg.GetString("token", "")

	require.NoError(t, v.StoreToken("identical-token-value"))
	second := cfg.GetString("token", "")

	assert.NotEqual(t, first, second, "two encryptions of the same token must differ")
}

func TestVault_WireFormat(t *testing.T) {
	v, _ := testVault(t)
	require.NoError(t, v.StoreToken("abcdefghijklmnop"))

	encoded := v.cfg.GetString("token", "")
	parts := strings.Split(encoded, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 32) // 16-byte IV, hex
	assert.Len(t, parts[1], 32) // 16-byte GCM tag, hex
	for _, p := range parts {
		_, err := hex.DecodeString(p)
		assert.NoError(t, err)
	}
}

func TestVault_RejectsShortTokens(t *testing.T) {
	v, dir := testVault(t)

	for _, token := range []string{"", "short", "123456789"} {
		err := v.StoreToken(token)
		assert.ErrorIs(t, err, ErrTokenTooShort)
	}

	// No config write may occur on failure.
	_, err := os.Stat(filepath.Join(dir, "config.json"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, v.HasToken())
}

func TestVault_KeyFileNeverRewritten(t *testing.T) {
	v, dir := testVault(t)
	keyPath := filepath.Join(dir, ".key")

	require.NoError(t, v.StoreToken("first-token-0123456789"))
	firstKey, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	require.NoError(t, v.StoreToken("second-token-0123456789"))
	secondKey, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	assert.Equal(t, firstKey, secondKey)
	assert.Len(t, strings.TrimSpace(string(firstKey)), 64)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())
}

func TestVault_GetTokenFailureModes(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, v *Vault, dir string)
	}{
		{
			name:  "missing config",
			setup: func(t *testing.T, v *Vault, dir string) {},
		},
		{
			name: "missing key file",
			setup: func(t *testing.T, v *Vault, dir string) {
				require.NoError(t, v.StoreToken("valid-token-123456"))
				require.NoError(t, os.Remove(filepath.Join(dir, ".key")))
			},
		},
		{
			name: "malformed ciphertext",
			setup: func(t *testing.T, v *Vault, dir string) {
				require.NoError(t, v.StoreToken("valid-token-123456"))
				require.NoError(t, v.cfg.Set("token", "nothex:nothex:nothex"))
			},
		},
		{
			name: "wrong segment count",
			setup: func(t *testing.T, v *Vault, dir string) {
				require.NoError(t, v.cfg.Set("token", "deadbeef"))
			},
		},
		{
			name: "tampered ciphertext fails auth",
			setup: func(t *testing.T, v *Vault, dir string) {
				require.NoError(t, v.StoreToken("valid-token-123456"))
				enc := v.cfg.GetString("token", "")
				parts := strings.Split(enc, ":")
				parts[2] = strings.Repeat("00", len(parts[2])/2)
				require.NoError(t, v.cfg.Set("token", strings.Join(parts, ":")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, dir := testVault(t)
			tt.setup(t, v, dir)

			got, ok := v.GetToken()
			assert.False(t, ok)
			assert.Empty(t, got)
		})
	}
}

func TestVault_ClearTokenPreservesOtherFields(t *testing.T) {
	v, _ := testVault(t)

	require.NoError(t, v.cfg.Set("apiUrl", "https://example.test"))
	require.NoError(t, v.StoreToken("valid-token-123456"))
	require.NoError(t, v.ClearToken())

	assert.False(t, v.HasToken())
	assert.Equal(t, "https://example.test", v.cfg.APIURL())
}

func TestVault_UnicodeAndLargeTokens(t *testing.T) {
	v, _ := testVault(t)

	tokens := []string{
		"пароль-секрет-アクセス-🔑-key",
		strings.Repeat("x7#\x01\x7f", 210), // binary-ish, >1KB
	}
	for _, token := range tokens {
		require.NoError(t, v.StoreToken(token))
		got, ok := v.GetToken()
		require.True(t, ok)
		assert.Equal(t, token, got)
	}
}

func TestVault_NamedSecrets(t *testing.T) {
	v, _ := testVault(t)

	require.NoError(t, v.StoreSecret("openrouter", "sk-or-abcdef123456"))
	require.NoError(t, v.StoreToken("super-secret-api-key-12345"))

	got, ok := v.GetSecret("openrouter")
	require.True(t, ok)
	assert.Equal(t, "sk-or-abcdef123456", got)

	// Secrets and the sync token are independent fields.
	token, ok := v.GetToken()
	require.True(t, ok)
	assert.Equal(t, "super-secret-api-key-12345", token)

	_, ok = v.GetSecret("missing")
	assert.False(t, ok)

	require.NoError(t, v.ClearSecret("openrouter"))
	_, ok = v.GetSecret("openrouter")
	assert.False(t, ok)
	assert.True(t, v.HasToken())
}
