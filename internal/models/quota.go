package models

// QuotaRecord is the per-client free usage ledger. All counters are
// non-negative.
type QuotaRecord struct {
	UsedCount   int  `json:"used_count"`
	Paid        bool `json:"paid"`
	BonusBlocks int  `json:"bonus_blocks"`
}

type QuotaStatus struct {
	Paid      bool `json:"paid"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

type BonusRequest struct {
	ClientID string `json:"client_id" validate:"required,max=128"`
	Blocks   int    `json:"blocks" validate:"required,min=1,max=100"`
}

func (r *BonusRequest) Validate() error {
	return validate.Struct(r)
}
