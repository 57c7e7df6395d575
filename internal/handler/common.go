package handler

import (
	"encoding/json"
	"net/http"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// verificationFailedCode is the one public code for every failed
// fingerprint check. Logs and metrics keep the precise reason.
const verificationFailedCode = "verification_failed"

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	switch appErr.Code {
	case errors.IdentityMismatch, errors.IdentityVerificationFailed:
		statusCode = http.StatusUnauthorized
		errResponse = Error{
			Code:    verificationFailedCode,
			Message: "fingerprint could not be verified, please try again",
		}
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

// writeServiceError writes err as returned by a service.
func writeServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		writeError(w, appErr)
		return
	}
	writeError(w, errors.NewAppError(errors.InternalError, "an unexpected error occurred"))
}

func decodeRequest(r *http.Request, v interface{}) *errors.AppError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	if err := validate(v); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request").WithDetails(err.Error())
	}
	return nil
}
