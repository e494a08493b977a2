package provider

import "strings"

// ErrorKind is the wire-level error taxonomy every provider error is
// classified into.
type ErrorKind string

const (
	ErrorKindRateLimit       ErrorKind = "rate_limit"
	ErrorKindAuth            ErrorKind = "auth"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindBilling         ErrorKind = "billing"
	ErrorKindFormat          ErrorKind = "format"
	ErrorKindContextOverflow ErrorKind = "context_overflow"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// substring classification rules, checked in order. Generalizes the
// teacher's boolean IsRetryableError into the full named taxonomy.
var errorKindPatterns = []struct {
	kind    ErrorKind
	substrs []string
}{
	{ErrorKindRateLimit, []string{"429", "rate limit", "rate_limit", "too many requests"}},
	{ErrorKindAuth, []string{"401", "403", "unauthorized", "invalid api key", "authentication"}},
	{ErrorKindBilling, []string{"payment required", "billing", "insufficient_quota", "quota exceeded"}},
	{ErrorKindContextOverflow, []string{"context_length_exceeded", "context length", "maximum context", "too many tokens", "prompt is too long"}},
	{ErrorKindFormat, []string{"invalid_request_error", "invalid request", "malformed", "schema validation"}},
	{ErrorKindTimeout, []string{"etimedout", "econnreset", "timeout", "deadline exceeded", "504"}},
}

// ClassifyError maps an error to the wire taxonomy by lowercase
// substring match, falling back to unknown. A nil error classifies as
// "" (the empty ErrorKind), never a taxonomy member.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range errorKindPatterns {
		for _, s := range rule.substrs {
			if strings.Contains(msg, s) {
				return rule.kind
			}
		}
	}
	return ErrorKindUnknown
}

// DefaultClassifier implements turnloop.ErrorClassifier against
// ClassifyError: only rate_limit triggers the retry loop, only
// context_overflow triggers the one-shot compact-and-retry.
type DefaultClassifier struct{}

func (DefaultClassifier) IsRateLimit(err error) bool {
	return ClassifyError(err) == ErrorKindRateLimit
}

func (DefaultClassifier) IsContextOverflow(err error) bool {
	return ClassifyError(err) == ErrorKindContextOverflow
}
