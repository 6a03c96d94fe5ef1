package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/schema"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP
// status code. Transport-level errors (body too large, unsupported
// content type) are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeNotAuthorized:
		return http.StatusForbidden
	case api.ErrorTypeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the
// ErrorResponse wrapper format from pkg/api. It sets the Content-Type
// header and writes the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status
// code from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError maps any error coming out of the core to an HTTP
// response. Schema validation failures become 422 with the full
// violation list, storage misses become 404, and anything that is not
// an APIError is reported as a server error.
func WriteError(w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(api.ErrorResponse{
			Error: &api.APIError{
				Type:    api.ErrorTypeInvalidRequest,
				Code:    api.CodeSchemaValidation,
				Message: verr.Error(),
			},
			Violations: verr.Violations,
		})
		return
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		WriteAPIError(w, apiErr)
		return
	}

	if errors.Is(err, storage.ErrNotFound) {
		WriteAPIError(w, &api.APIError{
			Type:    api.ErrorTypeNotFound,
			Message: "resource not found",
		})
		return
	}

	WriteAPIError(w, api.NewServerError(err.Error()))
}
