package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	results, err := s.service.Search(r.Context(), &query)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			s.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleUpsertRecord(w http.ResponseWriter, r *http.Request) {
	var input models.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("upsert record request", zap.String("kind", input.Kind), zap.String("title", input.Title))
	detail, merged, err := s.service.Upsert(r.Context(), &input)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			s.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("upsert failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"record": detail,
		"merged": merged,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	detail, err := s.service.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get record failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ListFilter{
		Kind:    q.Get("kind"),
		Status:  q.Get("status"),
		Project: q.Get("project"),
	}
	details, err := s.service.List(r.Context(), &filter)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			s.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("list records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": details,
		"count":   len(details),
	})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete record request", zap.Int64("id", id))
	existed, err := s.service.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.storage.ListProjects(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete project request", zap.Int64("id", id))
	if err := s.service.DeleteProject(r.Context(), id); err != nil {
		s.logger.Error("project deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectCount, err := s.storage.CountProjects(ctx)
	if err != nil {
		s.logger.Error("status: count projects failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recordCount, err := s.storage.CountRecords(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"projects":          projectCount,
		"records":           recordCount,
		"vector_index_size": s.service.IndexSize(),
		"config": map[string]interface{}{
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"database_path":        s.config.Storage.DatabasePath,
			"index_path":           s.config.Storage.IndexPath,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.IndexPath)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
