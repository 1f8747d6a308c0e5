package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/steadystate/app/steady"
)

// ParamResponse is the JSON response for a single parameter
type ParamResponse struct {
	Name    string       `json:"name"`
	Value   steady.Value `json:"value"`
	Applied *bool        `json:"applied,omitempty"`
}

// UpdateInputRequest is the body of POST /inputs/{name}
type UpdateInputRequest struct {
	Value *float64 `json:"value"`
}

// CalculationRequest is the body of POST /calculation
type CalculationRequest struct {
	IsCalculating bool  `json:"isCalculating"`
	ShowResults   *bool `json:"showResults,omitempty"`
}

// handleGetState returns current snapshot
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handlePutState replaces the whole snapshot
func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var snap steady.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid snapshot: %v", err))
		return
	}
	if err := snap.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.state.Replace(snap)
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleGetInput returns value of the named input, 404 for unknown name
func (s *Server) handleGetInput(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap := s.state.Snapshot()
	if snap.DataIN.Index(name) < 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("input %q not found", name))
		return
	}
	s.writeJSON(w, http.StatusOK, ParamResponse{Name: name, Value: snap.DataIN.Value(name)})
}

// handleGetOutput returns value of the named output, 404 for unknown name
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap := s.state.Snapshot()
	if snap.DataOut.Index(name) < 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("output %q not found", name))
		return
	}
	s.writeJSON(w, http.StatusOK, ParamResponse{Name: name, Value: snap.DataOut.Value(name)})
}

// handleUpdateInput sets the named input. Unknown name is not an error, the response
// reports applied=false and inputs stay unchanged.
func (s *Server) handleUpdateInput(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req UpdateInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Value == nil {
		s.writeJSONError(w, http.StatusBadRequest, "value required")
		return
	}

	applied := s.state.UpdateInput(name, *req.Value)
	value := steady.Num(0)
	if applied {
		value = steady.Num(*req.Value)
	} else {
		log.Printf("[WARN] update of unknown input %q ignored", name)
	}
	s.writeJSON(w, http.StatusOK, ParamResponse{Name: name, Value: value, Applied: &applied})
}

// handleUpdateOutputs replaces all output results
func (s *Server) handleUpdateOutputs(w http.ResponseWriter, r *http.Request) {
	var outs steady.ParameterSet
	if err := json.NewDecoder(r.Body).Decode(&outs); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid outputs: %v", err))
		return
	}
	if err := outs.Validate(); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.state.UpdateOutputs(outs)
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleSelection applies partial selection update
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var upd steady.SelectionUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid selection: %v", err))
		return
	}
	s.state.UpdateSelection(upd)
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleCalculation sets calculation flags
func (s *Server) handleCalculation(w http.ResponseWriter, r *http.Request) {
	var req CalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	s.state.UpdateCalculation(req.IsCalculating, req.ShowResults)
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleReset restores defaults. Storage cleanup failure is logged only,
// in-memory state is reset anyway.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.state.Reset(r.Context()); err != nil {
		log.Printf("[WARN] reset: %v", err)
	}
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// handleSchema returns JSON schema of the snapshot
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, steady.Schema())
}

// handleEvents streams snapshots as server-sent events. The first event is the current snapshot.
// A slow client gets the latest snapshot only, intermediate ones are dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Printf("[DEBUG] can't lift write deadline for events stream, %v", err)
	}

	updates := make(chan steady.Snapshot, 1)
	unsub := s.state.Subscribe(func(snap steady.Snapshot) {
		select {
		case updates <- snap:
		default:
			// replace stale pending snapshot with the latest one
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			data, err := json.Marshal(snap)
			if err != nil {
				log.Printf("[WARN] failed to encode snapshot event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
				log.Printf("[DEBUG] events client gone, %v", err)
				return
			}
			if err := rc.Flush(); err != nil {
				log.Printf("[WARN] can't flush events stream, %v", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON response with status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
