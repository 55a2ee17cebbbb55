// Package handler exposes the verification pipeline over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"skern/internal/verification/service"
	"skern/pkg/platform/httputil"
	"skern/pkg/requestcontext"
)

type Handler struct {
	verifier *service.Service
	logger   *slog.Logger
}

func New(verifier *service.Service, logger *slog.Logger) *Handler {
	return &Handler{verifier: verifier, logger: logger}
}

// Register mounts the verification routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verify", h.verify)
	r.Post("/verify/challenge", h.resumeChallenge)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	started := time.Now()

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sub, err := req.ToSubmission()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision, err := h.verifier.Verify(ctx, sub)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", requestID,
			"submission_id", req.SubmissionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verify handled",
		"request_id", requestID,
		"submission_id", decision.SubmissionID.String(),
		"outcome", string(decision.Outcome),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(decision))
}

func (h *Handler) resumeChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	started := time.Now()

	req, ok := httputil.DecodeAndPrepare[ChallengeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	decision, err := h.verifier.ResumeChallenge(ctx, service.ChallengeAnswer{
		ResumeToken: req.ResumeToken,
		Timing:      req.Timing,
		Motion:      req.Motion,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "challenge resume failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "challenge resume handled",
		"request_id", requestID,
		"submission_id", decision.SubmissionID.String(),
		"outcome", string(decision.Outcome),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(decision))
}
