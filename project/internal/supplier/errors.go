package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// MaxErrorLength caps every error message returned to callers, in runes.
const MaxErrorLength = 500

type Kind int

const (
	// KindInvalidInput covers missing fields and unusable URLs.
	KindInvalidInput Kind = iota + 1
	// KindUpstream is a non-2xx answer from the supplier.
	KindUpstream
	// KindTransport covers timeouts, DNS failures and refused connections.
	KindTransport
	// KindContentType is a supplier answer that is not declared as JSON.
	KindContentType
	// KindMalformed is a JSON-typed answer that could not be decoded or was too large.
	KindMalformed
)

// Error is the failure of a supplier call. Status is the HTTP status the
// failure should be reported with.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidInput(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Status: http.StatusBadRequest, Message: msg}
}

func transportError(err error, timeout time.Duration) *Error {
	var dnsErr *net.DNSError
	var netErr net.Error

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		msg = fmt.Sprintf("Request timed out after %s", timeout)
	case errors.As(err, &dnsErr):
		msg = "Could not resolve hostname. Check the API URL."
	case errors.Is(err, syscall.ECONNREFUSED):
		msg = "Connection refused. Check the API URL and port."
	}

	return &Error{
		Kind:    KindTransport,
		Status:  http.StatusBadGateway,
		Message: truncate(msg, MaxErrorLength),
		Err:     err,
	}
}

func upstreamError(status int, contentType string, body []byte) *Error {
	return &Error{
		Kind:    KindUpstream,
		Status:  status,
		Message: errorMessage(status, contentType, body),
	}
}

// errorMessage picks a readable message out of an error body. JSON bodies
// are consulted only when the response declares a JSON content type.
func errorMessage(status int, contentType string, body []byte) string {
	var parsed any
	if isJSON(contentType) {
		if err := json.Unmarshal(body, &parsed); err != nil {
			parsed = nil
		}
	}

	msg := messageFromBody(parsed, body)
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}
	return truncate(msg, MaxErrorLength)
}

func messageFromBody(parsed any, raw []byte) string {
	if parsed == nil {
		return strings.TrimSpace(string(raw))
	}

	if obj, ok := parsed.(map[string]any); ok {
		for _, key := range []string{"message", "error", "detail"} {
			if msg := stringify(obj[key]); msg != "" {
				return msg
			}
		}
	}

	if data, err := json.Marshal(parsed); err == nil {
		return string(data)
	}
	return strings.TrimSpace(string(raw))
}

// stringify renders a JSON value as a message. Empty strings, zero, false
// and null produce no message.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if !val {
			return ""
		}
	case float64:
		if val == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
