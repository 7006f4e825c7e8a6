package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/R3E-Network/storefront/internal/app/services/backup"
	apperrors "github.com/R3E-Network/storefront/internal/errors"
)

// restoreField is the multipart field carrying the archive.
const restoreField = "file"

func (h *handler) listBackups(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Backups.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createBackup(w http.ResponseWriter, r *http.Request) {
	archive, err := h.app.Backups.Create(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, archive)
}

func (h *handler) downloadBackup(w http.ResponseWriter, r *http.Request) {
	f, archive, err := h.app.Backups.Open(r.Context(), pathVar(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": archive.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(archive.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.log.WithContext(r.Context()).WithError(err).WithField("backup", archive.Name).Warn("backup download interrupted")
	}
}

func (h *handler) deleteBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Backups.Delete(r.Context(), pathVar(r, "name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// restoreBackup accepts the archive either as a multipart upload in the
// "file" field or as the raw request body.
func (h *handler) restoreBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, backup.MaxRestoreSize)
	defer r.Body.Close()

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		mr, err := r.MultipartReader()
		if err != nil {
			h.writeError(w, r, apperrors.Validationf("invalid multipart body: %v", err))
			return
		}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				h.writeError(w, r, apperrors.Validationf("multipart field %q is missing", restoreField))
				return
			}
			if err != nil {
				h.writeError(w, r, apperrors.Validationf("invalid multipart body: %v", err))
				return
			}
			if part.FormName() == restoreField {
				src = part
				break
			}
			part.Close()
		}
	}

	manifest, err := h.app.Backups.Restore(r.Context(), src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperrors.Validationf("archive exceeds %d bytes", backup.MaxRestoreSize)
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"restored": true,
		"manifest": manifest,
	})
}
