// Package services contains the text generation providers. Every provider takes a fully built
// prompt and returns the model's reply, mapping upstream failures onto the sentinel errors
// declared here.
package services

import "errors"

// Upstream failures recognised across providers. Provider errors wrap one of these when the
// upstream response identifies the cause.
var (
	ErrInvalidAPIKey   = errors.New("invalid api key")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrContentFiltered = errors.New("content filtered")
	ErrEmptyResponse   = errors.New("empty response")
)

// Parameters are the sampling settings sent with every generation request.
type Parameters struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"maxTokens"`
}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 200
)

// DefaultParameters returns the settings used when the configuration provides none.
func DefaultParameters() Parameters {
	return Parameters{
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

func (p Parameters) withDefaults() Parameters {
	if p.Temperature <= 0 {
		p.Temperature = defaultTemperature
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}
	return p
}
