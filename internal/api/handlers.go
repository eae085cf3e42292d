package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/types"
)

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var filter *types.NodeFilter
	if r.ContentLength != 0 {
		filter = &types.NodeFilter{}
		if err := json.NewDecoder(r.Body).Decode(filter); err != nil && err != io.EOF {
			writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
			return
		}
	}

	nodes, err := s.mgr.ListNodes(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	// someone is watching: let the poller re-read node identities for
	// the next few cycles
	if s.runner != nil {
		s.runner.ArmIdentityRefresh()
	}
	writeJSON(w, http.StatusOK, types.NodesInstancesInfo{
		LatestBinVersion: s.mgr.BinVersions().Latest(),
		Nodes:            nodes,
		Stats:            s.stats.Get(),
		ScheduledBatches: s.batcher.ScheduledBatches(),
	})
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var opts types.NodeOpts
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
		return
	}
	info, err := s.mgr.CreateNode(r.Context(), opts)
	s.tel.CountNodeAction(r.Context(), "create", err != nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) nodeAction(name string, action func(context.Context, types.NodeID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := types.ParseNodeID(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
			return
		}
		err = action(r.Context(), id)
		s.tel.CountNodeAction(r.Context(), name, err != nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"node_id": string(id)})
	}
}

func (s *Server) handleNodeMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseNodeID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
		return
	}
	var sinceMs int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		sinceMs, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: invalid since parameter", nodemgr.ErrInvalidInput))
			return
		}
	}
	series, err := s.mgr.NodeMetrics(r.Context(), id, sinceMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleNodeLogs(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseNodeID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
		return
	}
	stream, err := s.mgr.LogsStream(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Transfer-Encoding", "chunked")
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.AppSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
		return
	}
	if err := s.store.UpdateSettings(r.Context(), &settings); err != nil {
		writeError(w, err)
		return
	}
	if s.runner != nil {
		s.runner.ApplySettings(settings)
	}
	if err := s.bus.Dispatch(r.Context(), eventbus.NewEvent(eventbus.EventSettings)); err != nil {
		s.logger.Warn("failed to dispatch settings event", "err", err)
	}
	writeJSON(w, http.StatusOK, settings)
}

type createBatchRequest struct {
	BatchType    types.BatchType `json:"batch_type"`
	IntervalSecs uint64          `json:"interval_secs"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
		return
	}
	batch, err := s.batcher.Prepare(r.Context(), req.BatchType, req.IntervalSecs)
	if err != nil {
		writeError(w, err)
		return
	}
	s.tel.CountBatchAction(r.Context(), "schedule")
	writeJSON(w, http.StatusCreated, batch)
}

type createBatchOnMatchRequest struct {
	BatchOnMatch types.BatchOnMatch `json:"batch_on_match"`
	IntervalSecs uint64             `json:"interval_secs"`
}

func (s *Server) handleCreateBatchOnMatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchOnMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", nodemgr.ErrInvalidInput, err))
		return
	}
	batch, err := s.batcher.PrepareOnMatch(r.Context(), req.BatchOnMatch, req.IntervalSecs)
	if err != nil {
		writeError(w, err)
		return
	}
	s.tel.CountBatchAction(r.Context(), "schedule")
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleListBatches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.batcher.ScheduledBatches())
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid batch id %q", nodemgr.ErrInvalidInput, raw))
		return
	}
	if err := s.batcher.CancelBatch(r.Context(), uint16(id)); err != nil {
		writeError(w, err)
		return
	}
	s.tel.CountBatchAction(r.Context(), "cancel")
	writeJSON(w, http.StatusOK, map[string]uint64{"batch_id": id})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Get())
}

func (s *Server) handleMCPInfo(w http.ResponseWriter, _ *http.Request) {
	if s.mcpInfo == nil {
		writeJSON(w, http.StatusOK, MCPInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.mcpInfo())
}
