package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const focusPattern = `mCurrentFocus=Window\{\S+ \S+ ([\w.]+)/([\w.]+)\}`

func TestForegroundScannerSingleMatch(t *testing.T) {
	s, err := NewForegroundScanner(focusPattern)
	require.NoError(t, err)

	app, err := s.Scan(`
  mCurrentFocus=Window{abc123 u0 com.android.settings/com.android.settings.MainActivity}
`)
	require.NoError(t, err)
	assert.Equal(t, "com.android.settings", app.Package)
	assert.Equal(t, "com.android.settings.MainActivity", app.Activity)
}

func TestForegroundScannerNoMatch(t *testing.T) {
	s, err := NewForegroundScanner(focusPattern)
	require.NoError(t, err)

	_, err = s.Scan("mCurrentFocus=null\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousForeground)
}

func TestForegroundScannerMultipleDistinct(t *testing.T) {
	s, err := NewForegroundScanner(focusPattern)
	require.NoError(t, err)

	_, err = s.Scan(`
  mCurrentFocus=Window{a u0 com.example.one/com.example.one.Main}
  mCurrentFocus=Window{b u0 com.example.two/com.example.two.Main}
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousForeground)
}

func TestForegroundScannerDuplicateMatchesCollapse(t *testing.T) {
	s, err := NewForegroundScanner(focusPattern)
	require.NoError(t, err)

	app, err := s.Scan(`
  mCurrentFocus=Window{a u0 com.example.app/com.example.app.Main}
  mCurrentFocus=Window{a u0 com.example.app/com.example.app.Main}
`)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", app.Package)
}

func TestForegroundScannerRejectsBadPattern(t *testing.T) {
	_, err := NewForegroundScanner(`([`)
	assert.Error(t, err)

	_, err = NewForegroundScanner(`no capture groups`)
	assert.Error(t, err)
}
