package aggregation

import "github.com/rzbill/conduit/internal/exchange"

// Strategy merges an incoming exchange into the aggregate so far. old is
// nil for the first exchange of a key. The result must not be nil.
type Strategy interface {
	Aggregate(old, incoming *exchange.Exchange) (*exchange.Exchange, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(old, incoming *exchange.Exchange) (*exchange.Exchange, error)

func (f StrategyFunc) Aggregate(old, incoming *exchange.Exchange) (*exchange.Exchange, error) {
	return f(old, incoming)
}

// UseLatest keeps the most recent exchange.
var UseLatest Strategy = StrategyFunc(func(_, incoming *exchange.Exchange) (*exchange.Exchange, error) {
	return incoming, nil
})

// GroupedBodies collects bodies into a []any on the first exchange of the
// group. Headers of later exchanges are merged over earlier ones.
var GroupedBodies Strategy = StrategyFunc(func(old, incoming *exchange.Exchange) (*exchange.Exchange, error) {
	if old == nil {
		out := incoming.Copy()
		out.Body = []any{incoming.Body}
		return out, nil
	}
	list, _ := old.Body.([]any)
	old.Body = append(list, incoming.Body)
	for k, v := range incoming.Headers {
		old.SetHeader(k, v)
	}
	if v, ok := incoming.Property(exchange.PropertyCompleteCurrentGroup); ok {
		old.SetProperty(exchange.PropertyCompleteCurrentGroup, v)
	}
	return old, nil
})
