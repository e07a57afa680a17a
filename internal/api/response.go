// Package api serves the tagscope HTTP API: device state, live views,
// recorded runs and measurement actions.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// WriteJSON encodes data and writes it with the given status. The body is
// encoded before the header goes out, so an encoding failure becomes a 500
// error envelope instead of a truncated 2xx.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.WithField("component", "api").WithError(err).Error("encode response")
		status = http.StatusInternalServerError
		buf.Reset()
		// The envelope holds only strings and cannot fail to encode.
		_ = json.NewEncoder(&buf).Encode(ErrorResponse{Error: ErrorDetail{
			Code:    "INTERNAL",
			Message: "failed to encode response",
		}})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// ErrorResponse is the error envelope of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine code and a message for humans.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// PageResponse is one page of a list endpoint.
type PageResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// WritePage writes items, already cut to p by the store, with the total
// count of the unpaged list.
func WritePage[T any](w http.ResponseWriter, items []T, total int, p Pagination) {
	if items == nil {
		items = []T{}
	}
	WriteJSON(w, http.StatusOK, PageResponse[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset})
}
