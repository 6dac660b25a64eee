package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
apps:
  - name: Settings
    android: com.android.settings
    harmony: com.huawei.hmos.settings
    ios: com.apple.Preferences
  - name: Chrome
    aliases: [browser]
    android: com.android.chrome
`

func TestCatalogResolve(t *testing.T) {
	c, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, "com.android.settings", c.Resolve("Settings", KindADB))
	assert.Equal(t, "com.huawei.hmos.settings", c.Resolve("settings", KindHDC))
	assert.Equal(t, "com.apple.Preferences", c.Resolve("SETTINGS", KindXCTest))
}

func TestCatalogResolveAlias(t *testing.T) {
	c, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	assert.Equal(t, "com.android.chrome", c.Resolve("browser", KindADB))
}

func TestCatalogPassThrough(t *testing.T) {
	c, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	// Unknown name: the model may already emit a raw identifier.
	assert.Equal(t, "com.vendor.app", c.Resolve("com.vendor.app", KindADB))
	// Known name but no identifier for this platform.
	assert.Equal(t, "Chrome", c.Resolve("Chrome", KindXCTest))
}

func TestCatalogInvalidYAML(t *testing.T) {
	_, err := ParseCatalog([]byte("apps: [unclosed"))
	assert.Error(t, err)
}

func TestEmptyCatalog(t *testing.T) {
	c := EmptyCatalog()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "anything", c.Resolve("anything", KindADB))
}
