package models

const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentCanceled  = "canceled"

	PaymentTypeLifetime = "lifetime_access"
)

type PaymentRequest struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required,len=3,uppercase"`
	Type     string  `json:"type" validate:"omitempty,oneof=lifetime_access"`
}

func (r *PaymentRequest) Validate() error {
	return validate.Struct(r)
}

type PaymentResponse struct {
	ConfirmationURL string `json:"confirmationUrl"`
	PaymentID       string `json:"paymentId"`
}

// PaymentStatusResponse answers GET /api/payments/{id}. Receipt is set once the
// payment succeeded and the client is known.
type PaymentStatusResponse struct {
	PaymentID string       `json:"paymentId"`
	Status    string       `json:"status"`
	Paid      bool         `json:"paid"`
	Receipt   string       `json:"receipt,omitempty"`
	Quota     *QuotaStatus `json:"quota,omitempty"`
}

type Payment struct {
	ID              string  `db:"id" json:"id" validate:"required"`
	ClientID        string  `db:"client_id" json:"client_id"`
	Amount          string  `db:"amount" json:"amount" validate:"required,numeric"`
	Currency        string  `db:"currency" json:"currency" validate:"required,len=3"`
	Status          string  `db:"status" json:"status" validate:"required,oneof=pending waiting_for_capture succeeded canceled"`
	ConfirmationURL *string `db:"confirmation_url" json:"confirmation_url,omitempty"`
	CreatedAt       int64   `db:"created_at" json:"created_at"`
	PaidAt          *int64  `db:"paid_at" json:"paid_at,omitempty"`
}

func (p *Payment) Validate() error {
	return validate.Struct(p)
}
