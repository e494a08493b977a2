package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError_Taxonomy(t *testing.T) {
	cases := map[string]ErrorKind{
		"429 Too Many Requests":               ErrorKindRateLimit,
		"401 unauthorized":                    ErrorKindAuth,
		"insufficient_quota: billing":         ErrorKindBilling,
		"context_length_exceeded: too long":   ErrorKindContextOverflow,
		"invalid_request_error: bad schema":   ErrorKindFormat,
		"ETIMEDOUT while dialing":             ErrorKindTimeout,
		"something totally unrelated blew up": ErrorKindUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, ClassifyError(errors.New(msg)), msg)
	}
}

func TestClassifyError_NilErrorIsEmptyKind(t *testing.T) {
	assert.Equal(t, ErrorKind(""), ClassifyError(nil))
}

func TestDefaultClassifier_OnlyRateLimitAndContextOverflowFlagged(t *testing.T) {
	var c DefaultClassifier
	assert.True(t, c.IsRateLimit(errors.New("429 rate limit")))
	assert.False(t, c.IsRateLimit(errors.New("401 unauthorized")))
	assert.True(t, c.IsContextOverflow(errors.New("context_length_exceeded")))
	assert.False(t, c.IsContextOverflow(errors.New("429 rate limit")))
}
