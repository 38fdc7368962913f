package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shelterflex/rent-service/internal/app"
	"github.com/shelterflex/rent-service/internal/domain"
)

const (
	codeValidation = "VALIDATION_ERROR"
	codeNotFound   = "NOT_FOUND"
	codeConflict   = "CONFLICT"
	codeInternal   = "INTERNAL_ERROR"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: message, Details: details}})
}

// writeError maps service errors onto the error envelope. Anything that is not a domain
// error is logged and reported as a 500 without its message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		var details any
		if len(validation.Fields) > 0 {
			details = validation.Fields
		}
		writeErrorCode(w, http.StatusBadRequest, codeValidation, validation.Message, details)
	case errors.As(err, &notFound):
		writeErrorCode(w, http.StatusNotFound, codeNotFound, notFound.Error(), nil)
	case errors.As(err, &conflict):
		status := http.StatusConflict
		if errors.Is(err, app.ErrMonthlyListingLimit) {
			status = http.StatusTooManyRequests
		}
		var details any
		if len(conflict.Details) > 0 {
			details = conflict.Details
		}
		writeErrorCode(w, status, codeConflict, conflict.Message, details)
	default:
		h.logger.Error("unhandled error", "request_id", middleware.GetReqID(r.Context()), "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "An unexpected error occurred", nil)
	}
}

// decodeBody reads a JSON request body into dst. Failures are returned as validation errors.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return domain.NewValidationError("Request body is required")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return domain.NewValidationError("Malformed JSON in request body")
	case errors.As(err, &typeErr):
		return domain.NewValidationError("Invalid request data", domain.FieldError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("%s must be of type %s", typeErr.Field, typeErr.Type),
		})
	case errors.As(err, &tooLarge):
		return domain.NewValidationError("Request body too large")
	default:
		return domain.NewValidationError("Invalid request data: " + err.Error())
	}
}
