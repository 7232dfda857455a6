package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/conduit/internal/exchange"
)

func TestCompilePredicate(t *testing.T) {
	p, err := CompilePredicate("   ")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = CompilePredicate("size +")
	assert.Error(t, err)
	_, err = CompilePredicate("unknown_var > 1")
	assert.Error(t, err)
	_, err = CompilePredicate("size + 1")
	assert.Error(t, err, "non-bool expressions are rejected")
}

func TestPredicateMatches(t *testing.T) {
	p, err := CompilePredicate(`size >= 2 && body == "done" && properties["tenant"] == "acme"`)
	require.NoError(t, err)
	assert.Equal(t, `size >= 2 && body == "done" && properties["tenant"] == "acme"`, p.String())

	ex := exchange.New("done")
	ex.SetProperty("tenant", "acme")
	ok, err := p.Matches(ex)
	require.NoError(t, err)
	assert.False(t, ok, "size defaults to 1")

	ex.SetProperty(exchange.PropertyAggregatedSize, 2)
	ok, err = p.Matches(ex)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPredicateRuntimeError(t *testing.T) {
	p, err := CompilePredicate(`headers["missing"] == 1`)
	require.NoError(t, err)
	_, err = p.Matches(exchange.New(nil))
	assert.Error(t, err)
}
