// Package handler exposes tag issuance over HTTP. Issuance is an internal
// factory-facing endpoint; the router guards it with the issuer token.
package handler

import (
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skern/internal/tag/service"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/platform/httputil"
	"skern/pkg/requestcontext"
)

type Handler struct {
	tags   *service.Service
	logger *slog.Logger
}

func New(tags *service.Service, logger *slog.Logger) *Handler {
	return &Handler{tags: tags, logger: logger}
}

// Register mounts the issuance routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/tags/issue", h.issue)
}

// IssueRequest asks for a batch of tags.
type IssueRequest struct {
	BatchCode   string `json:"batch_code"`
	ProductName string `json:"product_name"`
	Count       int    `json:"count"`
}

// IssuedTagResponse is one minted tag. The pattern secrets appear in this
// response only; they are never stored and cannot be retrieved again.
type IssuedTagResponse struct {
	CertificateID   string    `json:"certificate_id"`
	SerialNumber    string    `json:"serial_number"`
	VerifyURL       string    `json:"verify_url"`
	GuillocheSecret string    `json:"guilloche_secret"`
	BorderSecret    string    `json:"border_secret"`
	IssuedAt        time.Time `json:"issued_at"`
}

type IssueResponse struct {
	BatchCode string              `json:"batch_code"`
	Issued    []IssuedTagResponse `json:"issued"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	batch, err := id.ParseBatchCode(req.BatchCode)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid batch code"))
		return
	}

	issued, err := h.tags.IssueBatch(ctx, batch, req.ProductName, req.Count)
	if err != nil {
		h.logger.ErrorContext(ctx, "tag issuance failed",
			"request_id", requestID,
			"batch_code", batch.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := IssueResponse{BatchCode: batch.String(), Issued: make([]IssuedTagResponse, 0, len(issued))}
	for _, tag := range issued {
		resp.Issued = append(resp.Issued, IssuedTagResponse{
			CertificateID:   tag.Record.CertificateID.String(),
			SerialNumber:    tag.Record.SerialNumber.String(),
			VerifyURL:       tag.Record.VerifyURL,
			GuillocheSecret: hex.EncodeToString(tag.GuillocheSecret),
			BorderSecret:    hex.EncodeToString(tag.BorderSecret),
			IssuedAt:        tag.Record.IssuedAt,
		})
	}

	h.logger.InfoContext(ctx, "batch issued",
		"request_id", requestID,
		"batch_code", batch.String(),
		"count", len(resp.Issued),
	)
	httputil.WriteJSON(w, http.StatusCreated, resp)
}
