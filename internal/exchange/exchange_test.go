package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsID(t *testing.T) {
	a, b := New("x"), New("y")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCopyIsolatesMaps(t *testing.T) {
	e := New("x")
	e.SetHeader("h", 1)
	cp := e.Copy()
	cp.SetHeader("h", 2)
	cp.SetProperty("p", true)

	v, _ := e.Header("h")
	assert.Equal(t, 1, v)
	_, ok := e.Property("p")
	assert.False(t, ok)
}

func TestIntProperty(t *testing.T) {
	e := New(nil)
	assert.Equal(t, 5, e.IntProperty(PropertyAggregatedSize, 5))
	e.SetProperty(PropertyAggregatedSize, int64(3))
	assert.Equal(t, 3, e.IntProperty(PropertyAggregatedSize, 0))
	e.SetProperty(PropertyAggregatedSize, "nope")
	assert.Equal(t, 9, e.IntProperty(PropertyAggregatedSize, 9))
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(StaticEndpoint("direct:a"))
	ep, ok := r.Lookup("direct:a")
	require.True(t, ok)
	assert.Equal(t, "direct:a", ep.URI())

	r.Unregister("direct:a")
	_, ok = r.Lookup("direct:a")
	assert.False(t, ok)
}
