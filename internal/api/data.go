package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/credittwin/internal/cache"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/ingest"
	"github.com/opensource-finance/credittwin/internal/storage"
)

const (
	defaultSampleSize = 20
	maxSampleSize     = 500
	maxUploadBytes    = 64 << 20
)

// Import formats accepted by POST /data/import.
const (
	FormatMapped   = "mapped"
	FormatAccepted = "accepted"
	FormatRejected = "rejected"
	FormatExport   = "export"
)

// GetStats returns corpus statistics, served from cache until the corpus changes.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var stats domain.CorpusStats
	if h.cache != nil {
		if found, err := cache.GetJSON(ctx, h.cache, statsCacheKey, &stats); err == nil && found {
			writeJSON(w, http.StatusOK, stats)
			return
		}
	}

	fresh, err := h.corpus.Stats(ctx)
	if err != nil {
		slog.Error("failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, statsCacheKey, fresh, statsCacheTTL); err != nil {
			slog.Debug("failed to cache stats", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, fresh)
}

// StatusResponse describes the corpus and the neighbour index.
type StatusResponse struct {
	Cases   int               `json:"total_records"`
	Index   domain.IndexStats `json:"index"`
	Version string            `json:"version"`
}

// GetStatus reports how many cases are stored and indexed.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.repo.CountCases(ctx)
	if err != nil {
		slog.Error("failed to count cases", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count cases")
		return
	}
	resp := StatusResponse{Cases: count, Version: h.version}
	if h.index != nil {
		if resp.Index, err = h.index.Stats(ctx); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSample returns random cases from the corpus.
func (h *Handler) GetSample(w http.ResponseWriter, r *http.Request) {
	n := defaultSampleSize
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		n = min(parsed, maxSampleSize)
	}

	cases, err := h.corpus.Sample(r.Context(), n)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": cases,
		"count":   len(cases),
	})
}

// ImportData handles POST /data/import. The multipart form carries the CSV in
// "file", an optional "format" and, for mapped imports, a JSON "mapping".
func (h *Handler) ImportData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form upload")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	limit := 0
	if v := r.FormValue("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}

	format := r.FormValue("format")
	loaded, err := load(file, format, r.FormValue("mapping"), limit)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to parse upload", "error", err)
		writeError(w, http.StatusBadRequest, "failed to parse CSV: "+err.Error())
		return
	}
	if len(loaded.Cases) == 0 {
		writeError(w, http.StatusBadRequest, "no valid rows found in upload")
		return
	}

	// exports already carry their flags
	if format != FormatExport {
		ingest.DeriveFlags(loaded.Cases)
	}
	result, err := h.corpus.Import(ctx, loaded.Cases)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	result.Skipped = loaded.Skipped
	h.invalidateStats(r)

	writeJSON(w, http.StatusOK, result)
}

func load(file multipart.File, format, mapping string, limit int) (*ingest.LoadResult, error) {
	switch format {
	case FormatAccepted:
		return ingest.LoadAccepted(file, limit)
	case FormatRejected:
		return ingest.LoadRejected(file, limit)
	case FormatExport:
		return ingest.LoadExport(file)
	case "", FormatMapped:
		m := ingest.DefaultMapping()
		if mapping != "" {
			if err := json.Unmarshal([]byte(mapping), &m); err != nil {
				return nil, domain.NewValidationError("invalid mapping JSON", err)
			}
		}
		return ingest.LoadMapped(file, m)
	default:
		return nil, domain.NewValidationError(fmt.Sprintf("unknown format %q", format), nil)
	}
}

// ResetData replaces the corpus with synthetic cases.
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	n := ingest.DefaultSyntheticCount
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		n = parsed
	}

	result, err := h.corpus.Reset(r.Context(), n)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.invalidateStats(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "corpus reset with synthetic data",
		"result":  result,
	})
}

// ClearData deletes every case and drops the index collection.
func (h *Handler) ClearData(w http.ResponseWriter, r *http.Request) {
	n, err := h.corpus.Clear(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.invalidateStats(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "corpus cleared",
		"deleted_count": n,
	})
}

// ExportData streams the corpus as a CSV attachment.
func (h *Handler) ExportData(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := h.corpus.Export(r.Context(), &buf)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyCorpus) {
			writeError(w, http.StatusNotFound, "no data to export")
			return
		}
		writeEngineError(w, err)
		return
	}

	name := fmt.Sprintf("credittwin_export_%s.csv", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, &buf); err != nil {
		slog.Warn("export interrupted", "error", err)
	}
}

// ArchiveExport writes the corpus export into archive storage.
func (h *Handler) ArchiveExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	var buf bytes.Buffer
	n, err := h.corpus.Export(ctx, &buf)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyCorpus) {
			writeError(w, http.StatusNotFound, "no data to export")
			return
		}
		writeEngineError(w, err)
		return
	}

	key := storage.ArchiveKey(time.Now())
	location, err := h.archive.Upload(ctx, key, &buf)
	if err != nil {
		slog.Error("failed to archive export", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to archive export")
		return
	}

	slog.Info("export archived", "key", key, "records", n)
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":          key,
		"location":     location,
		"record_count": n,
	})
}

// GetTemplate returns the CSV header for mapped imports.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="credittwin_template.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := ingest.WriteTemplate(w); err != nil {
		slog.Warn("failed to write template", "error", err)
	}
}

func (h *Handler) invalidateStats(r *http.Request) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(r.Context(), statsCacheKey); err != nil {
		slog.Debug("failed to invalidate stats cache", "error", err)
	}
}
