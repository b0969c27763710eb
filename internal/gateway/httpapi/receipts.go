package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/ruhusa/internal/domain"
	"github.com/jkaninda/ruhusa/internal/receipt"
)

// ReceiptResponse is the JSON response for POST /v1/receipts.
type ReceiptResponse struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// handleReceiptUpload handles POST /v1/receipts with a multipart "file" field.
// The returned ID is what the assistant needs to attach the receipt to an
// expense request.
func (g *Gateway) handleReceiptUpload(w http.ResponseWriter, r *http.Request, userID string) {
	// Headroom for the multipart envelope; the service enforces the file cap.
	r.Body = http.MaxBytesReader(w, r.Body, receipt.DefaultMaxBytes+defaultMaxRequestSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	actor := domain.Actor{ID: userID, Kind: domain.ActorHuman}
	rc, err := g.receipts.Upload(r.Context(), actor, header.Filename, contentType, file)
	if err != nil {
		code, msg := statusFor(err)
		if code == http.StatusInternalServerError {
			g.logger.ErrorContext(r.Context(), "receipt upload failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, code, ErrorBody{Error: msg})
		return
	}

	g.logger.InfoContext(r.Context(), "receipt uploaded",
		slog.String("user_id", userID),
		slog.String("receipt_id", rc.ID.String()),
		slog.Int64("size", rc.Size),
	)
	writeJSON(w, http.StatusCreated, ReceiptResponse{
		ID:          rc.ID.String(),
		Filename:    rc.Filename,
		ContentType: rc.ContentType,
		Size:        rc.Size,
	})
}

func (g *Gateway) handleReceiptExtract(c *okapi.Context) error {
	userID, ok, err := g.caller(c)
	if !ok {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid receipt ID")
	}
	data, err := g.receipts.Extract(c.Context(), domain.Actor{ID: userID, Kind: domain.ActorHuman}, id)
	if err != nil {
		return abortWith(c, err)
	}
	return c.OK(data)
}
