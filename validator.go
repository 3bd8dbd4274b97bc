package settings

import "github.com/go-playground/validator/v10"

// ValidatorOption configures the validator.
type ValidatorOption func(*validator.Validate)

// NewValidator creates a validator instance for section shape checks. Pass
// the result to NewManager via WithValidator when custom tags are needed.
func NewValidator(opts ...ValidatorOption) *validator.Validate {
	v := validator.New()
	for _, opt := range opts {
		opt(v)
	}
	return v
}
