package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt(t *testing.T) {
	t.Setenv("SEARCH_MAX_RESULTS", "")
	n, err := Int("SEARCH_MAX_RESULTS", 8)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	t.Setenv("SEARCH_MAX_RESULTS", "12")
	n, err = Int("SEARCH_MAX_RESULTS", 8)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	t.Setenv("SEARCH_MAX_RESULTS", "twelve")
	_, err = Int("SEARCH_MAX_RESULTS", 8)
	assert.Error(t, err)

	t.Setenv("SEARCH_MAX_RESULTS", "-1")
	_, err = Int("SEARCH_MAX_RESULTS", 8)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Setenv("SEARCH_TIMEOUT", "750ms")
	d, err := Duration("SEARCH_TIMEOUT", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, d)

	t.Setenv("SEARCH_TIMEOUT", "soon")
	_, err = Duration("SEARCH_TIMEOUT", time.Second)
	assert.Error(t, err)
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "off")
	assert.False(t, Bool("OTEL_ENABLED", true))
	t.Setenv("OTEL_ENABLED", "maybe")
	assert.True(t, Bool("OTEL_ENABLED", true))

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, List("CORS_ALLOWED_ORIGINS"))
}

func TestPort(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := Port("PORT", "8080")
	assert.Error(t, err)

	t.Setenv("PORT", "")
	p, err := Port("PORT", "8080")
	require.NoError(t, err)
	assert.Equal(t, "8080", p)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DISPATCH_TEST_FROM_FILE=loaded\n"), 0o600))

	t.Setenv("DISPATCH_TEST_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("DISPATCH_TEST_FROM_FILE"))
	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("DISPATCH_TEST_FROM_FILE"))
}
