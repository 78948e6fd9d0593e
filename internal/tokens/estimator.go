// Package tokens estimates token costs for admission control.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/shayan1083/rbchat-backend/internal/config"
)

// Estimator counts tokens with a tiktoken encoding, falling back to a
// chars-per-token ratio when the encoding is unavailable (offline builds).
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the configured encoding. A load failure is not fatal;
// estimates degrade to the character ratio.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding(config.DefaultTokenEncoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", config.DefaultTokenEncoding).
			Msg("tokenizer unavailable, using character ratio estimates")
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// Count returns the estimated token count for the given text.
func (e *Estimator) Count(text string) int {
	if e.enc == nil {
		return len(text) / config.TokenEstimateRatio
	}
	return len(e.enc.Encode(text, nil, nil))
}

// CountAll sums estimates over several texts.
func (e *Estimator) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Count(t)
	}
	return total
}
