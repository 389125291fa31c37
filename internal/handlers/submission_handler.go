package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/services/intake"
)

const maxMultipartMemory = 32 << 20

// SubmissionHandler accepts document uploads
type SubmissionHandler struct {
	intake Intake
	logger arbor.ILogger
}

// NewSubmissionHandler creates a new SubmissionHandler
func NewSubmissionHandler(intake Intake, logger arbor.ILogger) *SubmissionHandler {
	return &SubmissionHandler{
		intake: intake,
		logger: logger,
	}
}

// SubmitHandler handles POST /api/submissions with multipart fields owner_id and file
func (h *SubmissionHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		WriteError(w, http.StatusBadRequest, "Expected a multipart upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	ownerID, err := strconv.ParseInt(r.FormValue("owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		WriteError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	if err := h.intake.Precheck(r.Context(), ownerID); err != nil {
		h.reject(w, ownerID, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	path, _, err := h.intake.Stage(ownerID, header.Filename, file)
	if err != nil {
		if errors.Is(err, intake.ErrFileTooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		h.logger.Error().Int64("owner_id", ownerID).Err(err).Msg("Failed to stage upload")
		WriteError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	item, position, err := h.intake.Accept(r.Context(), intake.AcceptRequest{
		OwnerID:          ownerID,
		SourcePath:       path,
		OriginalFilename: header.Filename,
	})
	if err != nil {
		os.Remove(path)
		h.reject(w, ownerID, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"item_id":        item.ID,
		"position":       position,
		"estimated_wait": h.intake.EstimatedWait(position).String(),
	})
}

func (h *SubmissionHandler) reject(w http.ResponseWriter, ownerID int64, err error) {
	status := acceptStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Int64("owner_id", ownerID).Err(err).Msg("Failed to accept upload")
	}
	WriteError(w, status, err.Error())
}

func acceptStatus(err error) int {
	switch {
	case errors.Is(err, intake.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, intake.ErrLoginInProgress):
		return http.StatusServiceUnavailable
	case errors.Is(err, intake.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}
