package api

import (
	"bytes"
	"net/http"

	"onebreath/internal/export"
	"onebreath/pkg/domain"
)

func (s *Server) completed(r *http.Request) ([]domain.Sample, error) {
	return s.deps.Store.Find(r.Context(), domain.SampleFilter{Statuses: []domain.Status{domain.StatusComplete}})
}

func (s *Server) handleCompletedSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.completed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleDownloadDataset(w http.ResponseWriter, r *http.Request) {
	samples, err := s.completed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCompletedCSV(&buf, samples); err != nil {
		s.writeError(w, r, domain.Wrap(domain.KindInternal, "render dataset", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename="+export.CompletedFileName)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleAnalyzed(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Store.AnalyzedRecords(r.Context(), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = domain.Dataset{}
	}
	writeJSON(w, http.StatusOK, records)
}

type dashboardSummary struct {
	Total    int                   `json:"total"`
	ByStatus map[domain.Status]int `json:"by_status"`
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	samples, err := s.deps.Store.Find(r.Context(), domain.SampleFilter{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary := dashboardSummary{Total: len(samples), ByStatus: make(map[domain.Status]int)}
	for _, st := range domain.Statuses() {
		summary.ByStatus[st] = 0
	}
	for _, sample := range samples {
		summary.ByStatus[sample.Status]++
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAIAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analyzer == nil {
		s.writeError(w, r, domain.Errorf(domain.KindUpstreamUnavailable, "ai analysis", "no summarizer configured"))
		return
	}
	insight, err := s.deps.Analyzer.Insights(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"insights":     insight.Insights,
		"cached":       insight.Cached,
		"fingerprint":  insight.Fingerprint,
		"generated_at": insight.GeneratedAt,
		"records":      insight.Records,
	})
}
