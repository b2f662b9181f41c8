package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptgate/promptgate/internal/apierror"
)

// errorBody is the stable error envelope shared by every failure path.
type errorBody struct {
	Error errorDetail `json:"error"`
	Meta  *errorMeta  `json:"meta,omitempty"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

type errorMeta struct {
	Retryable  bool `json:"retryable"`
	RetryAfter int  `json:"retryAfter,omitempty"`
}

// writeError emits the sanitized error envelope with its mapped status and
// a Retry-After header when the error carries a hint.
func writeError(w http.ResponseWriter, requestID string, apiErr *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", apiErr.RetryAfter))
	}
	w.WriteHeader(apierror.StatusCode(apiErr.Code))

	body := errorBody{
		Error: errorDetail{
			Code:      string(apiErr.Code),
			Message:   apiErr.Message,
			RequestID: requestID,
		},
		Meta: &errorMeta{
			Retryable:  apiErr.Retryable,
			RetryAfter: apiErr.RetryAfter,
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}

// JSON builds a buffered JSON success response; a convenience for handlers.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: header, Body: body}, nil
}
