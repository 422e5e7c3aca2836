package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LastRegistrationWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first, second := &fakeBackend{}, &fakeBackend{}
	r.Register("Local", func() (Backend, error) { return first, nil })
	r.Register("Local", func() (Backend, error) { return second, nil })

	got, err := r.Create("Local")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"Local"}, r.Names())
}

func TestRegistry_UnknownAndDeregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("B", func() (Backend, error) { return &fakeBackend{}, nil })
	r.Register("A", func() (Backend, error) { return &fakeBackend{}, nil })
	assert.Equal(t, []string{"A", "B"}, r.Names())

	assert.True(t, r.Deregister("A"))
	assert.False(t, r.Deregister("A"))

	_, err := r.Create("A")
	require.ErrorIs(t, err, ErrUnknownDispatcher)
}

func TestRegistry_Default(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	backend := &fakeBackend{}
	r.Register("Local", func() (Backend, error) { return backend, nil })
	r.SetDefault("Local")

	d, err := r.NewDispatcher("", nil)
	require.NoError(t, err)
	assert.Equal(t, "Local", d.Name())
	assert.Same(t, backend, d.Backend())

	r.Deregister("Local")
	assert.Empty(t, r.Default())
	_, err = r.NewDispatcher("", nil)
	require.ErrorIs(t, err, ErrUnknownDispatcher)
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	boom := errors.New("boom")
	r.Register("Broken", func() (Backend, error) { return nil, boom })

	_, err := r.Create("Broken")
	require.ErrorIs(t, err, boom)
}

func TestDefaultRegistry_IsSingleton(t *testing.T) {
	t.Parallel()

	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}
