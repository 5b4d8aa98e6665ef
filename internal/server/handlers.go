package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"formrelay/internal/mail"
	"formrelay/internal/upload"
	"formrelay/pkg/api"
)

// multipart fields other than the file are small; allow this much on top of
// the file size limit.
const formOverhead = 1 << 20

// handleUpload stores the multipart "file" part. Optional "name" and "ext"
// fields choose the key, "type" overrides the content type.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.Upload.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}
	if header.Size == 0 {
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}
	if header.Size > maxBytes {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}

	key := objectKey(r.FormValue("name"), r.FormValue("ext"), header.Filename, s.cfg.Upload.RandomizeKeys)
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	contentType := r.FormValue("type")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(key)); byExt != "" {
			contentType = byExt
		}
	}

	content := upload.Content{Body: file, Size: header.Size, ContentType: contentType}
	if _, err := s.uploader.Upload(r.Context(), content, key, s.cfg.Upload.Bucket, s.cfg.Upload.Wait); err != nil {
		var verr *api.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusOK, api.UploadResponse{
		Message: api.UploadedMessage,
		Key:     key,
		URL:     publicURL(s.cfg.Upload.CDNDomain, key),
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req api.FeedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sender.Send(r.Context(), mail.FeedbackMessage(s.cfg.Mail.To, req)); err != nil {
		s.log.Error().Err(err).Msg("feedback delivery failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ResultResponse{Result: api.SuccessResult})
}

func (s *Server) handleNewsletter(w http.ResponseWriter, r *http.Request) {
	var req api.NewsletterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.subscriber.Subscribe(r.Context(), req.Email); err != nil {
		s.log.Error().Err(err).Msg("newsletter subscription failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ResultResponse{Result: api.SuccessResult})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
