package hdc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
)

type fakeRunner struct {
	calls   []string
	outputs map[string]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	for k, out := range f.outputs {
		if strings.Contains(cmd, k) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func newBackend(run device.Runner) *Backend {
	return New(run, logging.NewNop(), Options{ChunkSize: 8})
}

func TestListDevices(t *testing.T) {
	run := &fakeRunner{outputs: map[string]string{
		"list targets": "7ZX0219A28000123\n127.0.0.1:5555\n",
	}}
	b := newBackend(run)

	devices, err := b.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "7ZX0219A28000123", devices[0].ID)
	assert.Equal(t, device.KindHDC, devices[0].Kind)
}

func TestListDevicesEmpty(t *testing.T) {
	run := &fakeRunner{outputs: map[string]string{"list targets": "[Empty]\n"}}
	b := newBackend(run)

	devices, err := b.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestTapSwipeAndKeys(t *testing.T) {
	run := &fakeRunner{}
	b := newBackend(run)

	require.NoError(t, b.Tap(context.Background(), "d1", 300, 400))
	require.NoError(t, b.Swipe(context.Background(), "d1", 500, 800, 500, 200, 300*time.Millisecond))
	require.NoError(t, b.LongPress(context.Background(), "d1", 10, 20, time.Second))
	require.NoError(t, b.KeyEvent(context.Background(), "d1", "BACK"))
	require.NoError(t, b.KeyEvent(context.Background(), "d1", "ENTER"))

	assert.Contains(t, run.calls[0], "uiInput click 300 400")
	assert.Contains(t, run.calls[1], "uiInput swipe 500 800 500 200 2000")
	assert.Contains(t, run.calls[2], "uiInput longClick 10 20")
	assert.Contains(t, run.calls[3], "uiInput keyEvent 2")
	assert.Contains(t, run.calls[4], "uiInput keyEvent 2054")
}

func TestSwipeSpeedClamped(t *testing.T) {
	assert.Equal(t, 600, swipeSpeed(0, 0, 0, 100, 0))
	assert.Equal(t, 200, swipeSpeed(0, 0, 0, 10, time.Second))
	assert.Equal(t, 40000, swipeSpeed(0, 0, 0, 1000, time.Millisecond))
	assert.Equal(t, 2000, swipeSpeed(0, 0, 0, 600, 300*time.Millisecond))
}

func TestHdcFailureOnStdout(t *testing.T) {
	run := &fakeRunner{outputs: map[string]string{
		"uiInput click": "[Fail]Device not founded or connected\n",
	}}
	b := newBackend(run)

	err := b.Tap(context.Background(), "d1", 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestForegroundParsing(t *testing.T) {
	const dump = `
User ID #100
  current mission lists:
    Mission ID #81
      AbilityRecord ID #52
        app name [com.huawei.hmos.settings]
        main name [MainAbility]
        bundle name [com.huawei.hmos.settings]
        state #FOREGROUND  start time [2026]
      AbilityRecord ID #53
        app name [com.example.idle]
        main name [EntryAbility]
        bundle name [com.example.idle]
        state #BACKGROUND  start time [2026]
`
	app, err := parseForeground(dump)
	require.NoError(t, err)
	assert.Equal(t, "com.huawei.hmos.settings", app.Package)
	assert.Equal(t, "MainAbility", app.Activity)
}

func TestForegroundAmbiguous(t *testing.T) {
	_, err := parseForeground("nothing here")
	assert.ErrorIs(t, err, device.ErrAmbiguousForeground)

	const two = `
        bundle name [com.a]
        state #FOREGROUND
        bundle name [com.b]
        state #FOREGROUND
`
	_, err = parseForeground(two)
	assert.ErrorIs(t, err, device.ErrAmbiguousForeground)
}

func TestLaunchApp(t *testing.T) {
	catalog, err := device.ParseCatalog([]byte(
		"apps:\n  - name: Settings\n    harmony: com.huawei.hmos.settings/MainAbility\n"))
	require.NoError(t, err)

	run := &fakeRunner{}
	b := New(run, logging.NewNop(), Options{Catalog: catalog})

	require.NoError(t, b.LaunchApp(context.Background(), "d1", "Settings"))
	assert.Contains(t, run.calls[0], "aa start -b com.huawei.hmos.settings -a MainAbility")

	require.NoError(t, b.LaunchApp(context.Background(), "d1", "com.other.app"))
	assert.Contains(t, run.calls[1], "aa start -b com.other.app -a EntryAbility")
}

func TestTypeTextUsesCachedCenter(t *testing.T) {
	run := &fakeRunner{}
	b := newBackend(run)
	b.sizes["d1"] = [2]int{1080, 2400}

	require.NoError(t, b.TypeText(context.Background(), "d1", "hello\nworld"))

	joined := strings.Join(run.calls, "\n")
	assert.Contains(t, joined, "inputText 540 1200 hello")
	assert.Contains(t, joined, "keyEvent 2054")
	assert.Contains(t, joined, "inputText 540 1200 world")
}
