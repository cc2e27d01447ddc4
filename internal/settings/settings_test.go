package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	svc, err := New(path, nil)
	require.NoError(t, err)
	defer svc.Close()

	v := svc.Get()
	assert.False(t, v.AutoMarkEnabled)
	assert.False(t, v.Debug)
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"autoMarkEnabled": true, "debug": true}`), 0644))

	svc, err := New(path, nil)
	require.NoError(t, err)
	defer svc.Close()

	v := svc.Get()
	assert.True(t, v.AutoMarkEnabled)
	assert.True(t, v.Debug)

	on, err := svc.AutoMarkEnabled(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
}

func TestSetPersistsAndApplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	svc, err := New(path, nil)
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Set(Values{AutoMarkEnabled: true}))
	assert.True(t, svc.Get().AutoMarkEnabled)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"autoMarkEnabled": true`)
}

func TestExternalEditIsPickedUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"autoMarkEnabled": false}`), 0644))

	svc, err := New(path, nil)
	require.NoError(t, err)
	defer svc.Close()

	require.False(t, svc.Get().AutoMarkEnabled)

	// Simulate the toggle flipping while an episode is playing.
	require.NoError(t, os.WriteFile(path, []byte(`{"autoMarkEnabled": true}`), 0644))

	require.Eventually(t, func() bool {
		return svc.Get().AutoMarkEnabled
	}, 3*time.Second, 10*time.Millisecond)
}
