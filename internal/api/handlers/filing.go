package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/finsight-labs/filingrag/internal/api"
	"github.com/finsight-labs/filingrag/internal/api/middleware"
	"github.com/finsight-labs/filingrag/internal/domain"
	"github.com/finsight-labs/filingrag/internal/index"
	"github.com/go-chi/chi/v5"
)

type FilingService interface {
	Query(ctx context.Context, ticker string, section domain.SectionKind, question string, k int) (*index.QueryResult, error)
	ForceRebuild(ctx context.Context, ticker string, section domain.SectionKind) (domain.FilingReference, error)
	Clear(ctx context.Context, ticker string, section domain.SectionKind) error
}

type FilingHandler struct {
	svc FilingService
}

func NewFilingHandler(svc FilingService) *FilingHandler {
	return &FilingHandler{svc: svc}
}

type QueryRequest struct {
	Ticker   string `json:"ticker"`
	Section  string `json:"section"`
	Question string `json:"question"`
	K        int    `json:"k"`
}

type RebuildRequest struct {
	Ticker  string `json:"ticker"`
	Section string `json:"section"`
}

type PassageResponse struct {
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

type FilingResponse struct {
	AccessionNumber string `json:"accession_number"`
	FilingDate      string `json:"filing_date"`
	SourceURL       string `json:"source_url"`
	ContentHash     string `json:"content_hash"`
}

type QueryResponse struct {
	Ticker   string            `json:"ticker"`
	Section  string            `json:"section"`
	Stale    bool              `json:"stale"`
	Filing   FilingResponse    `json:"filing"`
	Passages []PassageResponse `json:"passages"`
}

func filingToResponse(ref domain.FilingReference) FilingResponse {
	return FilingResponse{
		AccessionNumber: ref.AccessionNumber,
		FilingDate:      ref.FilingDate.Format("2006-01-02"),
		SourceURL:       ref.SourceURL,
		ContentHash:     ref.ContentHash,
	}
}

func (h *FilingHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Ticker == "" {
		api.Error(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if req.Section == "" {
		api.Error(w, http.StatusBadRequest, "section is required")
		return
	}
	if req.Question == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	middleware.LogFilingKey(r.Context(), req.Ticker, req.Section)

	result, err := h.svc.Query(r.Context(), req.Ticker, domain.SectionKind(req.Section), req.Question, req.K)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	middleware.LogFilingSnapshot(r.Context(), result.Reference.ContentHash, result.Stale)

	passages := make([]PassageResponse, len(result.Passages))
	for i, sp := range result.Passages {
		passages[i] = PassageResponse{
			Ordinal: sp.Passage.Ordinal,
			Text:    sp.Passage.Text,
			Score:   sp.Score,
		}
	}

	api.Success(w, http.StatusOK, QueryResponse{
		Ticker:   result.Reference.Key.Ticker,
		Section:  string(result.Reference.Key.Section),
		Stale:    result.Stale,
		Filing:   filingToResponse(result.Reference),
		Passages: passages,
	})
}

type RebuildResponse struct {
	Ticker  string         `json:"ticker"`
	Section string         `json:"section"`
	Filing  FilingResponse `json:"filing"`
}

func (h *FilingHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Ticker == "" {
		api.Error(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if req.Section == "" {
		api.Error(w, http.StatusBadRequest, "section is required")
		return
	}

	middleware.LogFilingKey(r.Context(), req.Ticker, req.Section)

	ref, err := h.svc.ForceRebuild(r.Context(), req.Ticker, domain.SectionKind(req.Section))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	middleware.LogFilingSnapshot(r.Context(), ref.ContentHash, false)

	api.Success(w, http.StatusOK, RebuildResponse{
		Ticker:  ref.Key.Ticker,
		Section: string(ref.Key.Section),
		Filing:  filingToResponse(ref),
	})
}

func (h *FilingHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	section := chi.URLParam(r, "section")
	middleware.LogFilingKey(r.Context(), ticker, section)

	if err := h.svc.Clear(r.Context(), ticker, domain.SectionKind(section)); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type SectionsResponse struct {
	Sections []string `json:"sections"`
}

// Sections lists the filing sections the service can index.
func (h *FilingHandler) Sections(w http.ResponseWriter, r *http.Request) {
	sections := make([]string, len(domain.ValidSectionKinds))
	for i, s := range domain.ValidSectionKinds {
		sections[i] = string(s)
	}
	api.Success(w, http.StatusOK, SectionsResponse{Sections: sections})
}
