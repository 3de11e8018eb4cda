package api

import (
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"onebreath/internal/notify"
	"onebreath/pkg/domain"
)

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.deps.Store.Find(r.Context(), domain.SampleFilter{Statuses: domain.DashboardStatuses()})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleGetSample(w http.ResponseWriter, r *http.Request) {
	sample, err := s.deps.Store.Get(r.Context(), chi.URLParam(r, "chipID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

type registerRequest struct {
	ChipID string `json:"chip_id"`
	Status string `json:"status"`
	sampleFields
}

func (s *Server) handleRegisterSample(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var status domain.Status
	if req.Status != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status = parsed
	}
	sample, err := domain.NewSample(req.ChipID, status, s.clock.Now(), s.cfg.ProcessingDuration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.patch().Apply(&sample)
	if err := s.deps.Store.Insert(r.Context(), sample); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("sample registered", zap.String("chip_id", sample.ChipID), zap.String("status", string(sample.Status)))
	if msg, ok := notify.StatusChanged(sample); ok {
		s.notify(r, msg)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "sample": sample})
}

type updateRequest struct {
	ChipID string `json:"chip_id"`
	Status string `json:"status"`
	sampleFields
}

// handleUpdateSample applies a status change validated against the
// transition table. The write is conditional on the status read, so a
// concurrent change (including a monitor sweep) surfaces as a conflict.
func (s *Server) handleUpdateSample(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ChipID = strings.TrimSpace(req.ChipID)
	if req.ChipID == "" || req.Status == "" {
		s.writeError(w, r, domain.Errorf(domain.KindInvalid, "update sample", "missing chip_id or status"))
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	current, err := s.deps.Store.Get(ctx, req.ChipID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := domain.CheckTransition(current.ChipID, current.Status, to); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := req.patch()
	patch.Status = &to
	if to == domain.StatusInProcess && current.Status != domain.StatusInProcess {
		patch.ExpectedCompletionTime = domain.Deadline(s.clock.Now(), s.cfg.ProcessingDuration)
	}
	res, err := s.deps.Store.UpdateOne(ctx, domain.SampleFilter{ChipID: current.ChipID, Statuses: []domain.Status{current.Status}}, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Matched == 0 {
		s.writeError(w, r, domain.Errorf(domain.KindConflict, "update sample", "%s changed status concurrently; reload and retry", current.ChipID))
		return
	}
	updated, err := s.deps.Store.Get(ctx, current.ChipID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Modified == 1 && current.Status != to {
		s.logger.Info("sample status changed",
			zap.String("chip_id", updated.ChipID),
			zap.String("from", string(current.Status)),
			zap.String("to", string(to)))
		if msg, ok := notify.StatusChanged(updated); ok {
			s.notify(r, msg)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Sample updated successfully.",
		"sample":  updated,
	})
}

type patientInfoRequest struct {
	ChipID      string        `json:"chipID"`
	PatientInfo *sampleFields `json:"patientInfo"`
}

// handleUpdatePatientInfo upserts metadata; an unknown chip is registered.
func (s *Server) handleUpdatePatientInfo(w http.ResponseWriter, r *http.Request) {
	var req patientInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ChipID = strings.TrimSpace(req.ChipID)
	if req.ChipID == "" || req.PatientInfo == nil || req.PatientInfo.patch().IsEmpty() {
		s.writeError(w, r, domain.Errorf(domain.KindInvalid, "update patient info", "chipID and patientInfo are required"))
		return
	}
	res, err := s.deps.Store.Upsert(r.Context(), req.ChipID, req.PatientInfo.patch())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Patient information updated successfully.",
		"created": res.Matched == 0,
	})
}

type documentMetadataRequest struct {
	ChipID       string   `json:"chip_id"`
	DocumentURLs []string `json:"document_urls"`
}

func (s *Server) handleDocumentMetadata(w http.ResponseWriter, r *http.Request) {
	var req documentMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	urls := make([]string, 0, len(req.DocumentURLs))
	for _, u := range req.DocumentURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if strings.TrimSpace(req.ChipID) == "" || len(urls) == 0 {
		s.writeError(w, r, domain.Errorf(domain.KindInvalid, "upload document metadata", "missing chip_id or document_urls"))
		return
	}
	res, err := s.deps.Store.UpdateOne(r.Context(), domain.SampleFilter{ChipID: strings.TrimSpace(req.ChipID)}, domain.SamplePatch{AddDocumentURLs: urls})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Matched == 0 {
		s.writeError(w, r, domain.ErrNotFound{Entity: "sample", ID: req.ChipID})
		return
	}
	writeJSON(w, http.StatusOK, okMessage("Document URLs added successfully"))
}

// notify sends msg without failing the request; delivery problems are logged.
func (s *Server) notify(r *http.Request, msg notify.Message) {
	if err := s.deps.Notifier.Notify(r.Context(), msg); err != nil {
		s.logger.Warn("notification failed",
			zap.String("subject", msg.Subject),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err))
	}
}
