// Package handler exposes certificate lifecycle lookups over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skern/internal/certificate/models"
	"skern/internal/certificate/service"
	verification "skern/internal/verification/models"
	id "skern/pkg/domain"
	dErrors "skern/pkg/domain-errors"
	"skern/pkg/platform/httputil"
	"skern/pkg/requestcontext"
)

type Handler struct {
	certs  *service.Service
	logger *slog.Logger
}

func New(certs *service.Service, logger *slog.Logger) *Handler {
	return &Handler{certs: certs, logger: logger}
}

// Register mounts the certificate routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/certificates/{id}", h.get)
}

// CertificateResponse is the public lifecycle view of a certificate.
type CertificateResponse struct {
	ID              string                   `json:"id"`
	BatchCode       string                   `json:"batch_code"`
	SerialNumber    string                   `json:"serial_number"`
	ProductName     string                   `json:"product_name"`
	Status          string                   `json:"status"`
	IssuedAt        time.Time                `json:"issued_at"`
	FirstScanOrigin *verification.ScanOrigin `json:"first_scan_origin,omitempty"`
	AcceptedScans   int                      `json:"accepted_scans"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid certificate id"))
		return
	}

	cert, err := h.certs.Get(ctx, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate lookup",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", certID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, toResponse(cert))
}

func toResponse(cert *models.Certificate) CertificateResponse {
	return CertificateResponse{
		ID:              cert.ID.String(),
		BatchCode:       cert.BatchCode.String(),
		SerialNumber:    cert.SerialNumber.String(),
		ProductName:     cert.ProductName,
		Status:          string(cert.Status),
		IssuedAt:        cert.IssuedAt,
		FirstScanOrigin: cert.FirstScanOrigin,
		AcceptedScans:   cert.AcceptedScans,
	}
}
