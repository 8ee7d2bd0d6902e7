package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DecodeJSON reads a JSON body into dst rejecting unknown trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return NewAppError("BAD_REQUEST", "request body is required", http.StatusBadRequest, nil)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return NewAppError("BAD_REQUEST", "request body is required", http.StatusBadRequest, err)
		}
		return NewAppError("BAD_REQUEST", "invalid body", http.StatusBadRequest, err)
	}
	return nil
}
