package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alfis.toml")

	require.NoError(t, GenerateDefault(path))

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0000001D2A77D63477172678502E51DE7F346061FF7EB188A2445ECA3FC0780E", settings.Origin)
	assert.Empty(t, settings.KeyFiles)
	assert.Equal(t, 4, settings.CheckBlocks)
	assert.Equal(t, []string{"peer-v4.alfis.name:4244", "peer-v6.alfis.name:4244"}, settings.Net.Peers)
	assert.False(t, settings.Net.Public)
	assert.Equal(t, "[::1]:5353", settings.DNS.Listen)
	assert.Equal(t, []string{"https://dns.adguard.com/dns-query", "8.8.8.8:53"}, settings.DNS.Forwarders)
	assert.Equal(t, 0, settings.Mining.Threads)
}

func TestGenerateDefaultOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alfis.toml")
	require.NoError(t, os.WriteFile(path, []byte("origin = \"junk\"\n"), 0o600))

	require.NoError(t, GenerateDefault(path))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, "junk", settings.Origin)
}

func TestLoadOrGenerate_MissingFileCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "alfis.toml")

	settings, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.Equal(t, 8, settings.DNS.Threads)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadOrGenerate_UnparsableFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alfis.toml")
	require.NoError(t, os.WriteFile(path, []byte("{not toml"), 0o600))

	settings, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.NotEmpty(t, settings.Origin)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
