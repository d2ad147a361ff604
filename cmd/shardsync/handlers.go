package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/juju/errors"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/router"
	"github.com/dreamware/shardsync/internal/search"
	"github.com/dreamware/shardsync/internal/topology"
)

type writeRequest struct {
	Data string `json:"data"`
}

type topologyResponse struct {
	Mode     topology.Mode     `json:"mode"`
	Targets  []topology.Target `json:"targets"`
	Pairs    []topology.Pair   `json:"pairs"`
	Shards   []string          `json:"shards"`
	Replicas []string          `json:"replicas"`
}

// handleWrite stores one record. GET writes a generated payload; POST may
// carry {"data": "..."}.
func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if r.Method == http.MethodPost {
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
	}

	res, err := s.router.Write(r.Context(), req.Data)
	switch {
	case errors.Is(err, router.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("write failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.ReadAll(r.Context()))
}

// handleSearch runs a phrase query for ?q=.
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	docs, err := s.searcher.Search(r.Context(), r.URL.Query().Get("q"))
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleReplicate runs one replication tick now and returns its report.
func (s *server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Tick(r.Context()))
}

func (s *server) handleTopology(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, topologyResponse{
		Mode:     s.topo.Mode(),
		Targets:  s.topo.Targets(),
		Pairs:    s.topo.Pairs(),
		Shards:   s.topo.Shards(),
		Replicas: s.topo.Replicas(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, cluster.ErrorResponse{Error: msg})
}
