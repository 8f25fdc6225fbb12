package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/contract"
	"github.com/0xmhha/hellostorage-go/service"
)

// Version is reported by /version
const Version = "1.0.0"

// maxRequestBody bounds POST bodies
const maxRequestBody = 64 << 10

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Clients   int    `json:"websocket_clients"`
}

// ContractResponse describes the served contract
type ContractResponse struct {
	Address  string `json:"address"`
	Account  string `json:"account,omitempty"`
	CanWrite bool   `json:"canWrite"`
	Origin   uint64 `json:"origin"`
}

// SetMessageRequest is the body of POST /api/message
type SetMessageRequest struct {
	Message string `json:"message"`
}

// SetMessageResponse is returned by POST /api/message
type SetMessageResponse struct {
	*contract.Confirmation
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps application errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, contract.ErrNoSigner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, contract.ErrTxReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if s.wsServer != nil {
		response.Clients = s.wsServer.Hub().ClientCount()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"name":    "hellostorage-go",
	})
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	response := ContractResponse{
		Address:  s.backend.Contract().Hex(),
		CanWrite: s.backend.CanWrite(),
		Origin:   s.backend.Origin(),
	}
	if response.CanWrite {
		response.Account = s.backend.Account().Hex()
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	view, err := s.backend.CurrentValue(r.Context())
	if err != nil {
		s.logger.Warn("failed to read message", zap.Error(err))
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetMessage(w http.ResponseWriter, r *http.Request) {
	var req SetMessageRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	confirmation, err := s.backend.SubmitChange(r.Context(), req.Message)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("failed to set message", zap.Int("status", status), zap.Error(err))
		if confirmation != nil {
			// mined but reverted: the receipt is still useful to the caller
			s.writeJSON(w, status, struct {
				SetMessageResponse
				Error string `json:"error"`
			}{
				SetMessageResponse: SetMessageResponse{
					Confirmation: confirmation,
					ExplorerURL:  s.backend.ExplorerURL(confirmation.TxHash),
				},
				Error: err.Error(),
			})
			return
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, SetMessageResponse{
		Confirmation: confirmation,
		ExplorerURL:  s.backend.ExplorerURL(confirmation.TxHash),
	})
}

// handleHistory serves GET /api/history. Concurrent requests for the same
// origin share one scan. A request for another origin supersedes the running
// scan, and the superseded caller gets 409 only if it cannot rejoin a newer one.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var origin *uint64
	if raw := query.Get("origin"); raw != "" {
		val, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("invalid origin"))
			return
		}
		origin = &val
	}

	cached := false
	if raw := query.Get("cached"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("invalid cached flag"))
			return
		}
		cached = val
	}

	var (
		view *service.HistoryView
		err  error
	)
	if cached {
		view, err = s.backend.CachedHistory(r.Context(), origin)
	} else {
		from := s.backend.Origin()
		if origin != nil {
			from = *origin
		}
		view, err = s.backend.ReadHistory(r.Context(), from)
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("failed to serve history", zap.Bool("cached", cached), zap.Error(err))
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, view)
}
