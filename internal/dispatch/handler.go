// Package dispatch implements the mail dispatch endpoint: one validated
// request becomes exactly one relay send.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shineum/multimail/internal/email"
	"github.com/shineum/multimail/internal/metrics"
	"github.com/shineum/multimail/internal/provider"
)

// SendPath is the route of the dispatch endpoint.
const SendPath = "/api/send-email"

// Fixed error bodies returned to callers. Relay errors are never echoed.
const (
	ErrMethodNotAllowed = "Method not allowed"
	ErrMissingFields    = "Missing required fields"
)

// SendEmailRequest is the JSON body of a dispatch request. Every field must
// be present and non-empty.
type SendEmailRequest struct {
	Recipient   string `json:"recipient" binding:"required"`
	Subject     string `json:"subject" binding:"required"`
	Message     string `json:"message" binding:"required"`
	EmailID     string `json:"emailId" binding:"required"`
	AppPassword string `json:"appPassword" binding:"required"`
}

// SendResponse is returned when the relay accepted the message.
type SendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is returned for every rejected or failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the dispatch endpoint on top of a relay provider.
type Handler struct {
	provider provider.Provider
}

// NewHandler creates a Handler sending through p.
func NewHandler(p provider.Provider) *Handler {
	return &Handler{provider: p}
}

// SendEmail validates the body and performs a single relay send.
func (h *Handler) SendEmail(c *gin.Context) {
	var req SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Debug("rejected send request", "error", err)
		metrics.DispatchRejected.WithLabelValues("missing_fields").Inc()
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrMissingFields})
		return
	}

	creds := email.Credentials{EmailID: req.EmailID, AppPassword: req.AppPassword}
	msg := &email.Email{
		From:     req.EmailID,
		To:       []string{req.Recipient},
		Subject:  req.Subject,
		HtmlBody: req.Message,
	}

	// A send that has started is not abandoned when the caller goes away.
	ctx := context.WithoutCancel(c.Request.Context())

	start := time.Now()
	if err := h.provider.Send(ctx, creds, msg); err != nil {
		slog.Error("failed to send email",
			"recipient", req.Recipient,
			"sender", req.EmailID,
			"provider", h.provider.Name(),
			"error", err,
		)
		metrics.DispatchFailure.WithLabelValues(h.provider.Name()).Inc()
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Error sending email to " + req.Recipient})
		return
	}

	slog.Info("email sent",
		"recipient", req.Recipient,
		"provider", h.provider.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	metrics.DispatchSuccess.WithLabelValues(h.provider.Name()).Inc()
	c.JSON(http.StatusOK, SendResponse{Success: true, Message: "Email sent to " + req.Recipient})
}

// MethodNotAllowed answers requests to a known path with the wrong method.
func (h *Handler) MethodNotAllowed(c *gin.Context) {
	metrics.DispatchRejected.WithLabelValues("method_not_allowed").Inc()
	c.Header("Allow", http.MethodPost)
	c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: ErrMethodNotAllowed})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
