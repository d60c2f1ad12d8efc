package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"pairchat/blob"
	"pairchat/models"
)

// Error categories reported to HTTP clients.
const (
	CategoryValidation  = "validation"
	CategoryPersistence = "persistence"
	CategoryStorage     = "storage"
)

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/database", s.handleGetDatabase)
	mux.HandleFunc("POST /api/database", s.handlePostDatabase)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /media/{path...}", s.handleMedia)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /", http.FileServer(http.Dir(s.config.PublicDir)))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, category, message string) {
	writeJSON(w, status, errorResponse{Error: message, Category: category})
}

func (s *Server) handleGetDatabase(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hub.Snapshot(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "read database", "err", err)
		writeError(w, http.StatusInternalServerError, CategoryPersistence, "could not read database")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePostDatabase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var snap models.Snapshot
	if err := dec.Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, CategoryValidation, "invalid database document: "+err.Error())
		return
	}

	if err := s.hub.ReplaceSnapshot(r.Context(), &snap); err != nil {
		s.log.Error(r.Context(), "write database", "err", err)
		writeError(w, http.StatusInternalServerError, CategoryPersistence, "could not write database")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || r.ContentLength > s.config.MaxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, CategoryValidation, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, CategoryValidation, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("media")
	if err != nil {
		writeError(w, http.StatusBadRequest, CategoryValidation, "no file uploaded")
		return
	}
	defer file.Close()

	userID, err := strconv.ParseInt(r.FormValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, CategoryValidation, "userId is required")
		return
	}

	filePath, err := s.blobs.Store(r.Context(), userID, file, header.Filename)
	if err != nil {
		if errors.Is(err, blob.ErrInvalidPath) {
			writeError(w, http.StatusBadRequest, CategoryValidation, err.Error())
			return
		}
		s.log.Error(r.Context(), "store upload", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, CategoryStorage, "could not store file")
		return
	}

	s.log.Info(r.Context(), "file uploaded", "user", userID, "path", filePath, "size", header.Size)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "filePath": filePath})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rc, err := s.blobs.Open(r.Context(), r.PathValue("path"))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidPath) {
			http.NotFound(w, r)
			return
		}
		s.log.Error(r.Context(), "open media", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, CategoryStorage, "could not read file")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(r.URL.Path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Debug(r.Context(), "media copy interrupted", "path", r.URL.Path, "err", err)
	}
}
