package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Resinat/Tagscope/internal/service"
)

// codeStatus maps service error codes onto HTTP statuses. Unknown codes are
// answered with 500.
var codeStatus = map[string]int{
	"INVALID_ARGUMENT": http.StatusBadRequest,
	"NOT_FOUND":        http.StatusNotFound,
	"CONFLICT":         http.StatusConflict,
	"UNAVAILABLE":      http.StatusServiceUnavailable,
	"INTERNAL":         http.StatusInternalServerError,
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}

func writeDecodeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", tooLarge.Error())
		return
	}
	writeInvalidArgument(w, err.Error())
}

// writeServiceError answers err with its service code. A cancelled request
// context means the client or the server went away and maps to 503.
func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.ServiceError
	switch {
	case errors.As(err, &svcErr):
		status, ok := codeStatus[svcErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		WriteError(w, status, svcErr.Code, svcErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", fmt.Sprintf("request cancelled: %v", err))
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
