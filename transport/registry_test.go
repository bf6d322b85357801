package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/contractflow/internal/runtime/errors"
)

func newTestFactory(caps Capabilities) Factory {
	return func(opts Options) (Adapter, error) {
		return NewPeer(&recordingLink{}, caps, opts), nil
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Test", newTestFactory(Capabilities{Name: "test"}))

	assert.True(t, reg.Has("test"))
	assert.True(t, reg.Has("TEST"))
	assert.Equal(t, []string{"test"}, reg.Names())
	assert.Equal(t, "test", reg.GetCapabilities("test").Name, "no capabilities registered falls back to the name")
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	caps := Capabilities{Name: "custom", SupportsOrdering: true}
	reg.RegisterWithCapabilities("custom", newTestFactory(caps), caps)

	assert.Equal(t, caps, reg.GetCapabilities("custom"))
}

func TestRegistry_Open(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("fake", newTestFactory(Capabilities{Name: "fake"}), Capabilities{Name: "fake"})

	t.Run("known scheme", func(t *testing.T) {
		adapter, err := reg.Open("fake://somewhere", Options{})
		require.NoError(t, err)
		require.NotNil(t, adapter)
		assert.False(t, adapter.IsConnected())
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := reg.Open("nope://somewhere", Options{})
		require.ErrorIs(t, err, errors.ErrUnknownScheme)
	})

	t.Run("missing scheme", func(t *testing.T) {
		_, err := reg.Open("/just/a/path", Options{})
		require.ErrorIs(t, err, errors.ErrConnectionString)
	})
}

func TestScheme(t *testing.T) {
	scheme, err := Scheme("WS://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws", scheme)
}
