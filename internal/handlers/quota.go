package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/ledger"
	"github.com/shrimpsizemoose/promptsmith/internal/metrics"
	"github.com/shrimpsizemoose/promptsmith/internal/models"
	"github.com/shrimpsizemoose/promptsmith/internal/receipt"
)

type QuotaLedger interface {
	Status(ctx context.Context, client string) (models.QuotaStatus, error)
	Consume(ctx context.Context, client string) (models.QuotaStatus, error)
	MarkPaid(ctx context.Context, client string) error
	GrantBonus(ctx context.Context, client string, blocks int) (models.QuotaStatus, error)
}

type ReceiptVerifier interface {
	Verify(token, clientID string) (*receipt.Claims, error)
}

type AdminAuthorizer interface {
	ValidateAdmin(r *http.Request) error
}

type Headers struct {
	ClientID string
	Receipt  string
}

type QuotaHandler struct {
	ledger   QuotaLedger
	receipts ReceiptVerifier
	admin    AdminAuthorizer
	headers  Headers
}

// NewQuotaHandler builds the quota endpoints. receipts may be nil, in which
// case receipt headers are ignored.
func NewQuotaHandler(l QuotaLedger, receipts ReceiptVerifier, admin AdminAuthorizer, headers Headers) *QuotaHandler {
	return &QuotaHandler{
		ledger:   l,
		receipts: receipts,
		admin:    admin,
		headers:  headers,
	}
}

type exhaustedResponse struct {
	Error string             `json:"error"`
	Quota models.QuotaStatus `json:"quota"`
}

// HandleStatus serves GET /api/quota. A valid access receipt restores the paid
// flag before the status is read.
func (h *QuotaHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	client := r.Header.Get(h.headers.ClientID)
	if client == "" {
		writeError(w, http.StatusBadRequest, "Missing client id")
		return
	}

	if token := r.Header.Get(h.headers.Receipt); token != "" && h.receipts != nil {
		if _, err := h.receipts.Verify(token, client); err != nil {
			logger.Debug.Printf("Ignoring receipt for %s: %v", client, err)
		} else if err := h.ledger.MarkPaid(r.Context(), client); err != nil {
			logger.Error.Printf("Failed to restore paid access for %s: %v", client, err)
			writeError(w, http.StatusInternalServerError, "Failed to restore access")
			return
		}
	}

	st, err := h.ledger.Status(r.Context(), client)
	if err != nil {
		logger.Error.Printf("Failed to read quota: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to read quota")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleConsume serves POST /api/quota/consume.
func (h *QuotaHandler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	client := r.Header.Get(h.headers.ClientID)
	if client == "" {
		writeError(w, http.StatusBadRequest, "Missing client id")
		return
	}

	st, err := h.ledger.Consume(r.Context(), client)
	switch {
	case errors.Is(err, ledger.ErrQuotaExhausted):
		metrics.QuotaConsumedTotal.WithLabelValues("exhausted").Inc()
		writeJSON(w, http.StatusPaymentRequired, exhaustedResponse{
			Error: "Free limit reached, purchase lifetime access to continue",
			Quota: st,
		})
	case err != nil:
		metrics.QuotaConsumedTotal.WithLabelValues("error").Inc()
		logger.Error.Printf("Failed to consume quota: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update quota")
	default:
		outcome := "ok"
		if st.Unlimited {
			outcome = "paid"
		}
		metrics.QuotaConsumedTotal.WithLabelValues(outcome).Inc()
		writeJSON(w, http.StatusOK, st)
	}
}

// HandleBonus serves POST /api/quota/bonus for operators.
func (h *QuotaHandler) HandleBonus(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ValidateAdmin(r); err != nil {
		logger.Error.Printf("Auth failed: %v", err)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req models.BonusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.ledger.GrantBonus(r.Context(), req.ClientID, req.Blocks)
	if err != nil {
		logger.Error.Printf("Failed to grant bonus: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to grant bonus")
		return
	}

	logger.Info.Printf("Granted %d bonus blocks to %s", req.Blocks, req.ClientID)
	writeJSON(w, http.StatusOK, st)
}
