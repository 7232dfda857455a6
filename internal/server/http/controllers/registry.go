package controllers

import (
	"net/http"

	"github.com/rzbill/conduit/internal/runtime"
	"github.com/rzbill/conduit/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general      *GeneralController
	aggregations *AggregationsController
}

// NewControllerRegistry creates every controller for rt.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general:      NewGeneralController(rt),
		aggregations: NewAggregationsController(rt, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.aggregations.RegisterRoutes(mux)
}
