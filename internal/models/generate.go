package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

func (r *GenerateRequest) Validate() error {
	return validate.Struct(r)
}

// APIResponse is the envelope the UI expects from the generate endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	HTML    string `json:"html,omitempty"`
	Error   string `json:"error,omitempty"`
}
