package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nerrad567/ipx800-bridge/internal/bridge"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
)

// endpointSummary describes one configured controller.
type endpointSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	PollInterval string        `json:"poll_interval"`
	Trigger      string        `json:"trigger"`
	Health       bridge.Health `json:"health"`
}

// setOutputsRequest is the request body for PUT /outputs.
type setOutputsRequest struct {
	Channels []string `json:"channels"`
	Desired  *bool    `json:"desired"`
}

func summarise(b *bridge.Bridge) endpointSummary {
	ep := b.Endpoint()
	return endpointSummary{
		ID:           ep.ID,
		Name:         ep.Name,
		Address:      ep.Address,
		PollInterval: ep.PollInterval.String(),
		Trigger:      ep.Trigger,
		Health:       b.Health(),
	}
}

// handleListEndpoints returns every configured endpoint.
func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	out := make([]endpointSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, summarise(s.bridges[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": out, "count": len(out)})
}

// handleGetEndpoint returns one endpoint.
func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summarise(bridgeFromContext(r.Context())))
}

// handleGetSnapshot returns the latest canonical state of the endpoint.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bridgeFromContext(r.Context()).Snapshot())
}

// handlePush ingests a status document sent by the controller (or a proxy)
// instead of waiting for the next poll.
//
// The body is the same XML the controller serves at its status path. It is
// processed exactly like a poll result.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	raw, err := ipx800.ParseStatus(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	// A client hanging up must not abort the toggles half way.
	b := bridgeFromContext(r.Context())
	if err := b.Ingest(context.WithoutCancel(r.Context()), raw); err != nil {
		// The reading was applied; a failed toggle is retried by the poll loop.
		s.logger.Warn("push ingestion incomplete", "endpoint", b.ID(), "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"seq": b.Snapshot().Seq})
}

// handleSetOutputs drives raw outputs directly.
//
// Responds 502 listing exactly the channels that failed; the others keep
// their new value.
func (s *Server) handleSetOutputs(w http.ResponseWriter, r *http.Request) {
	var req setOutputsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Channels) == 0 || req.Desired == nil {
		writeBadRequest(w, "channels and desired are required")
		return
	}

	b := bridgeFromContext(r.Context())
	if err := b.SetOutputState(r.Context(), req.Channels, *req.Desired); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Snapshot())
}
