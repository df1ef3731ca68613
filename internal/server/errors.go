package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/annotree/internal/annotate"
	"github.com/mohammad-safakhou/annotree/internal/fetch"
	"github.com/mohammad-safakhou/annotree/internal/session"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var missing annotate.MissingFieldError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, annotate.ErrEmptyBatch),
		errors.Is(err, annotate.ErrUnknownPage),
		errors.Is(err, session.ErrNoDocument),
		errors.Is(err, fetch.ErrLocalDisabled),
		errors.Is(err, fetch.ErrScheme):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrExpired):
		return http.StatusGone
	case errors.Is(err, session.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrConvert), errors.Is(err, session.ErrNoContent):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func httpError(err error) *echo.HTTPError {
	he := echo.NewHTTPError(statusFor(err), err.Error())
	return he.SetInternal(err)
}
