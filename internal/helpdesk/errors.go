package helpdesk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the helpdesk API.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("helpdesk: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}

// IsPermanent reports whether err is a response that retrying cannot fix:
// 400, 401, 403, 404 or 422.
func IsPermanent(err error) bool {
	return isPermanent(StatusCode(err))
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.StatusCode
	}
	return 0
}

// parseAPIError builds an APIError from a response body. The helpdesk
// reports failures as {"error": "...", "description": "..."} where error
// may itself be an object; anything else falls back to the raw body.
func parseAPIError(status int, body []byte, target string) *APIError {
	apiErr := &APIError{StatusCode: status, URL: redact(target)}

	var payload struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"description"`
		Message     string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var parts []string
		if len(payload.Error) > 0 {
			var s string
			if json.Unmarshal(payload.Error, &s) == nil {
				parts = append(parts, s)
			} else {
				var obj struct {
					Title   string `json:"title"`
					Message string `json:"message"`
				}
				if json.Unmarshal(payload.Error, &obj) == nil {
					parts = append(parts, strings.TrimSpace(obj.Title+" "+obj.Message))
				}
			}
		}
		if payload.Description != "" {
			parts = append(parts, payload.Description)
		}
		if payload.Message != "" {
			parts = append(parts, payload.Message)
		}
		apiErr.Message = strings.Join(nonEmpty(parts), ": ")
	}

	if apiErr.Message == "" {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = fmt.Sprintf("status %d", status)
		}
		apiErr.Message = msg
	}
	return apiErr
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
