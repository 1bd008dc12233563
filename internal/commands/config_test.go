package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/basecamp/oauth1-cli/internal/config"
)

func TestAtomicWriteFile_OverwriteExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, atomicWriteFile(path, []byte("format: json\n")))

	// Overwrite (exercises the Windows pre-remove path)
	require.NoError(t, atomicWriteFile(path, []byte("format: quiet\n")),
		"overwrite of existing file must succeed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "format: quiet\n", string(data))
}

func TestAtomicWriteFile_Permissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, atomicWriteFile(path, []byte("{}")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(),
		"file should have restricted permissions")
}

func TestAtomicWriteFile_NoStaleTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, atomicWriteFile(path, []byte("{}")))

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() != "config.yaml" {
			t.Errorf("stale temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteProviderMergesIntoExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth1", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(`
format: json
providers:
  notes:
    request_token_url: https://notes.example.com/rt
`), 0600))

	err := writeProvider(path, "photos", config.ProviderConfig{
		RequestTokenURL: "https://photos.example.net/request_token",
		AuthorizeURL:    "https://photos.example.net/authorize",
		AccessTokenURL:  "https://photos.example.net/access_token",
		ConsumerKey:     "dpf43f3p2l4k3l03",
	}, true)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Format          string                            `yaml:"format"`
		DefaultProvider string                            `yaml:"default_provider"`
		Providers       map[string]config.ProviderConfig `yaml:"providers"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "json", doc.Format)
	assert.Equal(t, "photos", doc.DefaultProvider)
	assert.Equal(t, "https://notes.example.com/rt", doc.Providers["notes"].RequestTokenURL)
	assert.Equal(t, "dpf43f3p2l4k3l03", doc.Providers["photos"].ConsumerKey)
}

func TestWriteProviderCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, writeProvider(path, "photos", config.ProviderConfig{RequestTokenURL: "https://p.example.net/rt"}, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "request_token_url: https://p.example.net/rt")
	assert.NotContains(t, string(data), "default_provider")
}

func TestWriteProviderRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [broken"), 0600))

	assert.Error(t, writeProvider(path, "photos", config.ProviderConfig{}, false))
}
