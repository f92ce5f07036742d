package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/careline/careline/internal/auth"
	"github.com/careline/careline/internal/domain"
	"github.com/careline/careline/internal/kb"
	"github.com/careline/careline/internal/store"
)

// maxUploadBytes caps knowledge-base uploads at 10 MiB.
const maxUploadBytes = 10 << 20

// KnowledgeHandler serves knowledge-base management and search.
type KnowledgeHandler struct {
	*Handler
	svc *kb.Service
}

// NewKnowledgeHandler creates the knowledge handler.
func NewKnowledgeHandler(base *Handler, svc *kb.Service) *KnowledgeHandler {
	return &KnowledgeHandler{Handler: base, svc: svc}
}

// RegisterRoutes registers knowledge routes behind the auth middleware.
func (h *KnowledgeHandler) RegisterRoutes(r chi.Router, tokens *auth.Manager) {
	r.Group(func(r chi.Router) {
		r.Use(tokens.Middleware)
		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/upload", h.Upload)
			r.Post("/search", h.Search)
			r.Get("/collections", h.ListCollections)
			r.Route("/collections/{collection}", func(r chi.Router) {
				r.Get("/", h.CollectionInfo)
				r.Put("/", h.RenameCollection)
				r.Delete("/", h.DeleteCollection)
				r.Delete("/files", h.DeleteFile)
				r.Get("/chunks", h.ListChunks)
				r.Post("/chunks", h.AddChunk)
				r.Get("/chunks/{chunkID}", h.GetChunk)
				r.Put("/chunks/{chunkID}", h.UpdateChunk)
				r.Delete("/chunks/{chunkID}", h.DeleteChunk)
			})
		})
	})
}

// Upload ingests a multipart file into a collection, chunking and
// indexing its content.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	collection := strings.TrimSpace(r.FormValue("collection"))
	if collection == "" {
		Error(w, http.StatusBadRequest, "collection required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	chunks, err := h.svc.IngestFile(r.Context(), collection, header.Filename, content)
	if err != nil {
		if errors.Is(err, kb.ErrUnsupportedFormat) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Failed to ingest file", "error", err, "collection", collection, "filename", header.Filename)
		Error(w, http.StatusInternalServerError, "failed to ingest file")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"collection": collection,
		"filename":   header.Filename,
		"chunks":     chunks,
	})
}

type searchRequest struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	Source     string `json:"source"`
}

// Search runs a term-overlap query against one collection.
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Collection == "" || strings.TrimSpace(req.Query) == "" {
		Error(w, http.StatusBadRequest, "collection and query required")
		return
	}

	results, err := h.svc.Search(r.Context(), req.Collection, req.Query, req.Limit, req.Source)
	if err != nil {
		slog.Error("Knowledge search failed", "error", err, "collection", req.Collection)
		Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"results": results,
	})
}

// ListCollections returns all collections with chunk counts.
func (h *KnowledgeHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.repo.ListCollections(r.Context())
	if err != nil {
		slog.Error("Failed to list collections", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list collections")
		return
	}
	if collections == nil {
		collections = []*domain.Collection{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"collections": collections})
}

// CollectionInfo returns one collection's metadata.
func (h *KnowledgeHandler) CollectionInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	info, err := h.repo.CollectionInfo(r.Context(), name)
	if err != nil {
		slog.Error("Failed to load collection", "error", err, "collection", name)
		Error(w, http.StatusInternalServerError, "failed to load collection")
		return
	}
	if info == nil {
		Error(w, http.StatusNotFound, "collection not found")
		return
	}
	JSON(w, http.StatusOK, info)
}

type renameCollectionRequest struct {
	NewName string `json:"new_name"`
}

// RenameCollection moves all chunks under a new collection name.
func (h *KnowledgeHandler) RenameCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var req renameCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	newName := strings.TrimSpace(req.NewName)
	if newName == "" {
		Error(w, http.StatusBadRequest, "new_name required")
		return
	}

	if err := h.repo.RenameCollection(r.Context(), name, newName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "collection not found")
			return
		}
		slog.Error("Failed to rename collection", "error", err, "collection", name)
		Error(w, http.StatusInternalServerError, "failed to rename collection")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"collection": newName})
}

// DeleteCollection removes a collection and all its chunks.
func (h *KnowledgeHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	deleted, err := h.repo.DeleteCollection(r.Context(), name)
	if err != nil {
		slog.Error("Failed to delete collection", "error", err, "collection", name)
		Error(w, http.StatusInternalServerError, "failed to delete collection")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"collection":     name,
		"chunks_deleted": deleted,
	})
}

// DeleteFile removes all chunks ingested from one source file,
// identified by the source query parameter.
func (h *KnowledgeHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	source := r.URL.Query().Get("source")
	if source == "" {
		Error(w, http.StatusBadRequest, "source required")
		return
	}

	deleted, err := h.repo.DeleteBySource(r.Context(), name, source)
	if err != nil {
		slog.Error("Failed to delete source", "error", err, "collection", name, "source", source)
		Error(w, http.StatusInternalServerError, "failed to delete source")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"source":         source,
		"chunks_deleted": deleted,
	})
}

// ListChunks returns up to limit chunks of a collection.
func (h *KnowledgeHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	chunks, err := h.repo.ListChunks(r.Context(), name, limit)
	if err != nil {
		slog.Error("Failed to list chunks", "error", err, "collection", name)
		Error(w, http.StatusInternalServerError, "failed to list chunks")
		return
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"collection": name,
		"chunks":     chunks,
	})
}

type addChunkRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// AddChunk indexes one hand-written chunk.
func (h *KnowledgeHandler) AddChunk(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var req addChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content required")
		return
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	id, err := h.svc.AddChunk(r.Context(), name, source, req.Content)
	if err != nil {
		slog.Error("Failed to add chunk", "error", err, "collection", name)
		Error(w, http.StatusInternalServerError, "failed to add chunk")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetChunk returns one chunk by ID.
func (h *KnowledgeHandler) GetChunk(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	chunkID := chi.URLParam(r, "chunkID")

	chunk, err := h.repo.GetChunk(r.Context(), name, chunkID)
	if err != nil {
		slog.Error("Failed to load chunk", "error", err, "collection", name, "chunk_id", chunkID)
		Error(w, http.StatusInternalServerError, "failed to load chunk")
		return
	}
	if chunk == nil {
		Error(w, http.StatusNotFound, "chunk not found")
		return
	}
	JSON(w, http.StatusOK, chunk)
}

type updateChunkRequest struct {
	Content string `json:"content"`
}

// UpdateChunk replaces the content of one chunk.
func (h *KnowledgeHandler) UpdateChunk(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	chunkID := chi.URLParam(r, "chunkID")

	var req updateChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content required")
		return
	}

	if err := h.repo.UpdateChunk(r.Context(), name, chunkID, req.Content); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "chunk not found")
			return
		}
		slog.Error("Failed to update chunk", "error", err, "collection", name, "chunk_id", chunkID)
		Error(w, http.StatusInternalServerError, "failed to update chunk")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": chunkID})
}

// DeleteChunk removes one chunk.
func (h *KnowledgeHandler) DeleteChunk(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	chunkID := chi.URLParam(r, "chunkID")

	if err := h.repo.DeleteChunk(r.Context(), name, chunkID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "chunk not found")
			return
		}
		slog.Error("Failed to delete chunk", "error", err, "collection", name, "chunk_id", chunkID)
		Error(w, http.StatusInternalServerError, "failed to delete chunk")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": chunkID})
}
