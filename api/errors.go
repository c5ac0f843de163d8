package api

import (
	"errors"
	"net/http"

	"github.com/simonbegg/todo/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyText),
		errors.Is(err, domain.ErrInvalidPatch),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrPasswordTooWeak):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBadCredentials), errors.Is(err, domain.ErrAuthRequired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal failures from clients.
func errorMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return http.StatusText(http.StatusInternalServerError)
	}
	for _, known := range []error{
		domain.ErrTaskNotFound, domain.ErrEmptyText, domain.ErrInvalidPatch,
		domain.ErrInvalidEmail, domain.ErrPasswordTooWeak, domain.ErrUserExists,
		domain.ErrBadCredentials, domain.ErrAuthRequired,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
