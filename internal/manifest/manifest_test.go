package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	m := Default()
	assert.Equal(t, "/offline.html", m.OfflinePage)
	assert.Contains(t, m.Essential, "/offline.html")
	assert.ElementsMatch(t, []string{
		"/api/users", "/api/events", "/api/services",
		"/api/venues", "/api/messages", "/api/notifications",
	}, m.CacheableAPI)
	assert.NotEmpty(t, m.Critical)
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		m, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), m)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.yaml")
		doc := "version: \"7\"\nessential: [/, /app.js]\ncacheable_api: [/api/events]\ncritical: []\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		m, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "7", m.Version)
		assert.Equal(t, []string{"/", "/app.js"}, m.Essential)
		assert.Empty(t, m.OfflinePage)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("relative route rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.yaml")
		require.NoError(t, os.WriteFile(path, []byte("essential: [app.js]\n"), 0o600))
		_, err := Load(path)
		assert.ErrorContains(t, err, "essential")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("essential: [\n"))
		assert.Error(t, err)
	})
}

func TestIsCacheableAPI(t *testing.T) {
	m := &Manifest{CacheableAPI: []string{"/api/events", "/api/users/"}}

	assert.True(t, m.IsCacheableAPI("/api/events"))
	assert.True(t, m.IsCacheableAPI("/api/events/42"))
	assert.True(t, m.IsCacheableAPI("/api/users/me"))
	assert.False(t, m.IsCacheableAPI("/api/eventsx"))
	assert.False(t, m.IsCacheableAPI("/api/payments"))
	assert.False(t, m.IsCacheableAPI("/"))
}
