package api

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	minQuestionLength = 3
	maxQuestionLength = 4096
	minTopK           = 1
	maxTopK           = 12
)

// QueryRequest is the body of /ask and /search.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     *int   `json:"top_k,omitempty"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateQueryRequest checks question length and the optional top_k range.
func ValidateQueryRequest(req *QueryRequest) error {
	errs := make(map[string]string)

	n := utf8.RuneCountInString(req.Question)
	switch {
	case n < minQuestionLength:
		errs["question"] = fmt.Sprintf("question must be at least %d characters", minQuestionLength)
	case n > maxQuestionLength:
		errs["question"] = fmt.Sprintf("question must be at most %d characters", maxQuestionLength)
	}
	if req.TopK != nil && (*req.TopK < minTopK || *req.TopK > maxTopK) {
		errs["top_k"] = fmt.Sprintf("top_k must be between %d and %d", minTopK, maxTopK)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// topK returns the requested depth, or zero to select the default.
func (r *QueryRequest) topK() int {
	if r.TopK == nil {
		return 0
	}
	return *r.TopK
}
