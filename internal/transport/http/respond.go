package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	derrors "verisync/pkg/domain-errors"
)

type envelope struct {
	Data any `json:"data"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// writeError translates coded domain errors into HTTP statuses. Causes stay
// server-side; clients only see the code and message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := derrors.CodeOf(err)
	status := statusFor(code)

	message := "internal error"
	var coded *derrors.Error
	if errors.As(err, &coded) && status < http.StatusInternalServerError {
		message = coded.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", string(code), "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:    string(code),
		Message: message,
	}})
}

func statusFor(code derrors.Code) int {
	switch code {
	case derrors.CodeInvalidInput, derrors.CodeValidation:
		return http.StatusBadRequest
	case derrors.CodeConfiguration:
		return http.StatusConflict
	case derrors.CodeNotFound:
		return http.StatusNotFound
	case derrors.CodeConflict, derrors.CodeInvariantViolation:
		return http.StatusConflict
	case derrors.CodeNotReady:
		return http.StatusServiceUnavailable
	case derrors.CodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
