package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/yairfalse/surface/inventory"
	"github.com/yairfalse/surface/orchestrator"
	"github.com/yairfalse/surface/storage"
)

// HealthResponse is the body of healthStatus
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Message string `json:"message"`
}

// CountResponse is returned by upload and delete
type CountResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ScanResponse is returned by scanResources
type ScanResponse struct {
	Message string `json:"message"`
	Results any    `json:"results"`
}

type deleteRequest struct {
	Filter map[string]any `json:"filter"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "scanner",
		Message: "Scanner service is running",
	})
}

func (s *Server) handleUploadResources(w http.ResponseWriter, r *http.Request) {
	batch, err := s.decodeBatch(w, r, "resources")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	n, err := s.inventory.UploadResources(r.Context(), batch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CountResponse{Message: "Resources uploaded successfully", Count: n})
}

func (s *Server) handleUploadRules(w http.ResponseWriter, r *http.Request) {
	batch, err := s.decodeBatch(w, r, "rules")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	n, err := s.inventory.UploadRules(r.Context(), batch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CountResponse{Message: "Rules uploaded successfully", Count: n})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	var req inventory.ListRequest
	if err := s.decodeBody(w, r, &req, true); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page, err := s.inventory.ListResources(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var req inventory.ListRequest
	if err := s.decodeBody(w, r, &req, true); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page, err := s.inventory.ListRules(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeleteResources(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeDelete(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	n, err := s.inventory.DeleteResources(r.Context(), req.Filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Message: "Resources deleted successfully", Count: n})
}

func (s *Server) handleDeleteRules(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeDelete(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	n, err := s.inventory.DeleteRules(r.Context(), req.Filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Message: "Rules deleted successfully", Count: n})
}

// handleFindings lists findings. Query parameters narrow the list by string
// equality, e.g. ?severity=HIGH&rule_id=r1.
func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	raw := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	docs, err := s.inventory.ListFindings(r.Context(), raw)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.scanner.RunScan(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{Message: "Scan completed successfully", Results: result})
}

func (s *Server) handleSeverity(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summaries.SeveritySummary(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleResourceTypes(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.summaries.ResourceTypeSummary(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.summaries.RegionSummary(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// decodeBody reads one JSON value into v. Numbers stay json.Number so large
// integers survive into documents.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.bodyLimit))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return &inventory.ValidationError{Index: -1, Field: "body", Reason: err.Error()}
	}
	return nil
}

// decodeBatch accepts either {"<key>": [...]} or a bare array
func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request, key string) ([]map[string]any, error) {
	var body any
	if err := s.decodeBody(w, r, &body, false); err != nil {
		return nil, err
	}

	var items []any
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v[key].([]any)
		if !ok {
			return nil, &inventory.ValidationError{Index: -1, Field: key, Reason: "must be an array"}
		}
		items = list
	default:
		return nil, &inventory.ValidationError{Index: -1, Field: "body", Reason: fmt.Sprintf("expected an object with %q or an array", key)}
	}

	batch := make([]map[string]any, len(items))
	for i, item := range items {
		// non-objects stay nil and are rejected by the service
		batch[i], _ = item.(map[string]any)
	}
	return batch, nil
}

func (s *Server) decodeDelete(w http.ResponseWriter, r *http.Request) (deleteRequest, error) {
	var req deleteRequest
	if err := s.decodeBody(w, r, &req, false); err != nil {
		return req, err
	}
	if req.Filter == nil {
		return req, &inventory.ValidationError{Index: -1, Field: "filter", Reason: "is required"}
	}
	return req, nil
}

var errBodyTooLarge = errors.New("request body too large")

// writeServiceError maps service errors onto status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr    *inventory.ValidationError
		partial *orchestrator.PartialPersistError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": verr.Error(),
			"field": verr.Field,
			"index": verr.Index,
		})
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, orchestrator.ErrScanInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &partial):
		s.logger.LogStorageError(r.Context(), "persist findings", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    err.Error(),
			"computed": partial.Computed,
			"results":  partial.Result,
		})
	case errors.Is(err, storage.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
