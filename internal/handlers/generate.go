package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"
	"github.com/yuin/goldmark"

	"github.com/shrimpsizemoose/promptsmith/internal/gigachat"
	"github.com/shrimpsizemoose/promptsmith/internal/metrics"
	"github.com/shrimpsizemoose/promptsmith/internal/models"
)

// Completer turns a raw user prompt into an improved one.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GenerateHandler struct {
	completer Completer
	markdown  goldmark.Markdown
}

func NewGenerateHandler(completer Completer) *GenerateHandler {
	return &GenerateHandler{
		completer: completer,
		markdown:  goldmark.New(),
	}
}

// HandleGenerate serves POST /api/generate.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Debug.Printf("Failed to decode generate request: %v", err)
		h.fail(w, fmt.Errorf("%w: unreadable body: %v", gigachat.ErrInvalidInput, err))
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, fmt.Errorf("%w: %v", gigachat.ErrInvalidInput, err))
		return
	}

	text, err := h.completer.Generate(r.Context(), req.Prompt)
	if err != nil {
		h.fail(w, err)
		return
	}

	resp := models.APIResponse{Success: true, Data: text}
	if r.URL.Query().Get("render") == "html" {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(text), &buf); err != nil {
			logger.Error.Printf("Markdown conversion error: %v", err)
		} else {
			resp.HTML = buf.String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *GenerateHandler) fail(w http.ResponseWriter, err error) {
	kind := gigachat.Kind(err)
	metrics.GenerateErrorsTotal.WithLabelValues(kind).Inc()
	logger.Error.Printf("Generate failed: kind=%s retryable=%t: %v", kind, gigachat.Retryable(err), err)

	writeJSON(w, statusFor(err), models.APIResponse{
		Success: false,
		Error:   gigachat.UserMessage(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gigachat.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, gigachat.ErrAuthExpired), errors.Is(err, gigachat.ErrAuthRejected):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
