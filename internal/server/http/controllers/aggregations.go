package controllers

import (
	"net/http"

	"github.com/rzbill/conduit/internal/aggregation"
	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/runtime"
	"github.com/rzbill/conduit/pkg/log"
)

// AggregationsController exposes the runtime's aggregation repository.
type AggregationsController struct {
	rt     *runtime.Runtime
	logger log.Logger
}

// NewAggregationsController creates a new aggregations controller.
func NewAggregationsController(rt *runtime.Runtime, logger log.Logger) *AggregationsController {
	return &AggregationsController{rt: rt, logger: logger}
}

// RegisterRoutes registers:
// - GET    /v1/aggregations                 keys currently aggregating
// - GET    /v1/aggregations/{key}           snapshot for key
// - DELETE /v1/aggregations/{key}           evict key
// - POST   /v1/aggregations/{key}           process a unit of work for key
// - POST   /v1/aggregations/{key}/complete  force completion of key
// - POST   /v1/completions                  force completion of every key
func (c *AggregationsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/aggregations", c.handleKeys)
	mux.HandleFunc("GET /v1/aggregations/{key}", c.handleGet)
	mux.HandleFunc("DELETE /v1/aggregations/{key}", c.handleRemove)
	mux.HandleFunc("POST /v1/aggregations/{key}", c.handleProcess)
	mux.HandleFunc("POST /v1/aggregations/{key}/complete", c.handleCompleteKey)
	mux.HandleFunc("POST /v1/completions", c.handleCompleteAll)
}

func (c *AggregationsController) handleKeys(w http.ResponseWriter, r *http.Request) {
	repo := c.rt.Repository()
	keys, err := repo.Keys(r.Context())
	if err != nil {
		c.logger.Warn("list keys failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(k))
	}
	writeJSON(w, http.StatusOK, keysResp{Repository: repo.Name(), Keys: out})
}

func (c *AggregationsController) handleGet(w http.ResponseWriter, r *http.Request) {
	key := aggregation.Key(r.PathValue("key"))
	ex, err := c.rt.Repository().Get(r.Context(), key)
	if err != nil {
		c.logger.Warn("get aggregate failed", log.Str("key", string(key)), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to load aggregate")
		return
	}
	if ex == nil {
		writeError(w, http.StatusNotFound, "Aggregate not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(ex))
}

func (c *AggregationsController) handleRemove(w http.ResponseWriter, r *http.Request) {
	key := aggregation.Key(r.PathValue("key"))
	if err := c.rt.Repository().Remove(r.Context(), key); err != nil {
		c.logger.Warn("remove aggregate failed", log.Str("key", string(key)), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to remove aggregate")
		return
	}
	writeNoContent(w)
}

// handleProcess returns 200 with the aggregate when the unit completed its
// group and 202 when the group is still aggregating.
func (c *AggregationsController) handleProcess(w http.ResponseWriter, r *http.Request) {
	key := aggregation.Key(r.PathValue("key"))
	var req processReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ex := exchange.New(req.Body)
	for k, v := range req.Headers {
		ex.SetHeader(k, v)
	}
	c.rt.Events().ExchangeCreated(r.Context(), ex)

	done, err := c.rt.Aggregator().Process(r.Context(), key, ex)
	if err != nil {
		c.logger.Warn("process failed", log.Str("key", string(key)), log.Err(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if done == nil {
		writeJSON(w, http.StatusAccepted, processResp{})
		return
	}
	writeJSON(w, http.StatusOK, processResp{Completed: true, Exchange: viewOf(done)})
}

func (c *AggregationsController) handleCompleteKey(w http.ResponseWriter, r *http.Request) {
	key := aggregation.Key(r.PathValue("key"))
	ok, err := c.rt.Aggregator().ForceCompletionOfKey(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to complete aggregate")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Aggregate not found")
		return
	}
	writeJSON(w, http.StatusOK, completeResp{Completed: 1})
}

func (c *AggregationsController) handleCompleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := c.rt.Aggregator().ForceCompletion(r.Context())
	if err != nil {
		c.logger.Warn("forced completion failed", log.Int("completed", n), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to complete aggregates")
		return
	}
	writeJSON(w, http.StatusOK, completeResp{Completed: n})
}
