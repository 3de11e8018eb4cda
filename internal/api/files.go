package api

import (
	"bytes"
	"encoding/base64"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"onebreath/internal/blob"
	"onebreath/pkg/domain"
)

type presignRequest struct {
	FileName string `json:"file_name"`
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := blob.SanitizeName(req.FileName)
	if key == "" {
		s.writeError(w, r, domain.Errorf(domain.KindInvalid, "presign", "missing file name"))
		return
	}
	url, err := s.deps.Blobs.PresignURL(r.Context(), key, blob.SignedURLOptions{Method: http.MethodGet, Expiry: s.cfg.PresignExpiry})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url, "key": key})
}

type uploadRequest struct {
	Destination string `json:"destination_blob_name"`
	Source      string `json:"source_file_name"`
}

// handleUploadFromMemory stores a base64 data URL at the destination key,
// replacing any existing object.
func (s *Server) handleUploadFromMemory(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Destination) == "" || req.Source == "" {
		s.writeError(w, r, domain.Errorf(domain.KindInvalid, "upload", "destination_blob_name and source_file_name are required"))
		return
	}
	contentType, data, err := decodeDataURL(req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.deps.Blobs.Put(r.Context(), req.Destination, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Overwrite:   true,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("document uploaded", zap.String("key", info.Key), zap.Int64("size_bytes", info.Size))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "File uploaded successfully",
		"key":     info.Key,
		"url":     info.URL,
	})
}

// decodeDataURL parses "data:<mime>;base64,<payload>". A bare base64
// payload is accepted with an octet-stream type.
func decodeDataURL(raw string) (string, []byte, error) {
	contentType := "application/octet-stream"
	payload := raw
	if header, body, found := strings.Cut(raw, ","); found {
		payload = body
		header = strings.TrimPrefix(header, "data:")
		header = strings.TrimSuffix(header, ";base64")
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "" {
			contentType = mt
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, domain.Wrap(domain.KindInvalid, "decode upload", err)
	}
	return contentType, data, nil
}
