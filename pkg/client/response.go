package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorPayload is the `{"error": {"code", "message"}}` body the API sends for
// failures. Transport failures inside RequestMany are reported with the same
// shape and Code 0.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Response is the outcome of one request: a JSON body, an error payload, or
// neither (not found).
type Response struct {
	StatusCode int
	Body       json.RawMessage
	Err        *ErrorPayload
}

// NotFound reports an empty or absent body without an error payload.
func (r Response) NotFound() bool {
	return r.Err == nil && len(r.Body) == 0
}

// Decode unmarshals the body into v.
func (r Response) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Body) == 0 {
		return fmt.Errorf("decode: empty body")
	}
	return json.Unmarshal(r.Body, v)
}

// decodeResponse normalizes a raw HTTP answer into a Response.
func decodeResponse(status int, body []byte) Response {
	resp := Response{StatusCode: status}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if status >= http.StatusBadRequest && status != http.StatusNotFound {
			resp.Err = &ErrorPayload{Code: status, Message: http.StatusText(status)}
		}
		return resp
	}

	if trimmed[0] == '{' {
		var envelope struct {
			Error *ErrorPayload `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Error != nil {
			resp.Err = envelope.Error
			return resp
		}
	}

	if status >= http.StatusBadRequest {
		resp.Err = &ErrorPayload{Code: status, Message: http.StatusText(status)}
		return resp
	}

	resp.Body = json.RawMessage(trimmed)
	return resp
}
