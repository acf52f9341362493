package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/viva/internal/media"
	"github.com/pavelanni/viva/internal/model"
)

// formFile reads an uploaded recording from a multipart field. The format
// comes from the "format" field or the file name. On failure it writes the
// response and returns false; otherwise the caller closes the file and
// removes the form.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.media.MaxBytes()+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, http.StatusBadRequest, "ErrTooLarge")
			return nil, "", false
		}
		writeError(w, r, http.StatusBadRequest, "ErrNoFile")
		return nil, "", false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		r.MultipartForm.RemoveAll()
		writeError(w, r, http.StatusBadRequest, "ErrNoFile")
		return nil, "", false
	}
	format := r.FormValue("format")
	if format == "" {
		format = media.FormatFromFilename(header.Filename)
	}
	return file, format, true
}

// loadMedia fetches a media asset and checks that the current user may see
// the work it belongs to. Assets the user may not see are reported as missing.
func (h *Handler) loadMedia(w http.ResponseWriter, r *http.Request) (*model.MediaAsset, bool) {
	asset, err := h.store.GetMediaAsset(chi.URLParam(r, "mediaID"))
	if err != nil {
		fail(w, r, fmt.Errorf("get media asset: %w", err))
		return nil, false
	}
	if asset == nil {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return nil, false
	}

	var studentID, assignmentID int64
	switch asset.OwnerType {
	case model.OwnerQuestionAnswer:
		answer, err := h.store.GetQuestionAnswer(asset.OwnerID)
		if err != nil {
			fail(w, r, fmt.Errorf("get answer: %w", err))
			return nil, false
		}
		if answer == nil {
			writeError(w, r, http.StatusNotFound, "ErrNotFound")
			return nil, false
		}
		sess, err := h.viva.Get(r.Context(), answer.SessionID)
		if err != nil {
			fail(w, r, err)
			return nil, false
		}
		studentID, assignmentID = sess.StudentID, sess.AssignmentID
	case model.OwnerSubmission:
		sub, err := h.store.GetSubmission(asset.OwnerID)
		if err != nil {
			fail(w, r, fmt.Errorf("get submission: %w", err))
			return nil, false
		}
		if sub == nil {
			writeError(w, r, http.StatusNotFound, "ErrNotFound")
			return nil, false
		}
		studentID, assignmentID = sub.StudentID, sub.AssignmentID
	default:
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return nil, false
	}

	allowed, err := h.canSeeStudentWork(model.UserFromContext(r.Context()), studentID, assignmentID)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if !allowed {
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
		return nil, false
	}
	return asset, true
}

// handleMedia streams a stored recording to the student who made it or to a
// teacher who can see the work.
func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadMedia(w, r)
	if !ok {
		return
	}
	f, err := h.media.Open(asset)
	if err != nil {
		fail(w, r, fmt.Errorf("open media: %w", err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", asset.MimeType)
	http.ServeContent(w, r, asset.ID+"."+asset.Format, asset.CreatedAt, f)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadMedia(w, r)
	if !ok {
		return
	}
	t, err := h.media.ReadTranscript(asset)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteMedia removes a recording from a draft submission. Only the
// uploader or an admin may delete it.
func (h *Handler) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadMedia(w, r)
	if !ok {
		return
	}
	user := model.UserFromContext(r.Context())
	if user.Role != model.UserRoleAdmin && user.ID != asset.UploadedBy {
		writeError(w, r, http.StatusForbidden, "ErrForbidden")
		return
	}
	if err := h.viva.RemoveSubmissionMedia(r.Context(), asset); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
