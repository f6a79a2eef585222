package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request describes one logical API call. The body is held in memory so the
// request can be replayed with a fresh credential after a refresh.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// NewRequest builds a Request with an optional raw body and content type.
func NewRequest(method, path, contentType string, body []byte) *Request {
	req := &Request{
		Method: method,
		Path:   path,
		Header: make(http.Header),
		Body:   body,
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req
}

// NewJSONRequest marshals v as the request body. A nil v sends no body.
func NewJSONRequest(method, path string, v any) (*Request, error) {
	if v == nil {
		return NewRequest(method, path, "", nil), nil
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding request body: %w", err)
	}

	return NewRequest(method, path, "application/json", body), nil
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := decodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("transport: decoding response: %w", err)
	}

	return nil
}

// Message returns the server's "message" field, or the raw body.
func (r *Response) Message() string {
	return serverMessage(r.Body)
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	return dec.Decode(v)
}
