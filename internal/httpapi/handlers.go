package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"nfrag/internal/service"
)

// InvalidRequestMessage is returned with 400 when a field is missing.
const InvalidRequestMessage = "Requisição inválida. Forneça 'client_id' e 'question'."

const maxBodyBytes = 1 << 20

type askRequest struct {
	ClientID string `json:"client_id"`
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, InvalidRequestMessage)
		return
	}
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, InvalidRequestMessage)
		return
	}

	ans, err := s.answerer.Answer(r.Context(), req.ClientID, req.Question)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, InvalidRequestMessage)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: ans.Text})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Chunks: s.index.Len()}
	n, err := s.answerer.Sessions(r.Context())
	if err != nil {
		s.logger.Warn("failed to count sessions", "error", err)
		resp.Status = "degraded"
	}
	resp.Sessions = n
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
