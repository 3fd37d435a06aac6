package httpadapter

import (
	"net/http"

	"github.com/mkravets/taxcore/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidLabel),
		domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnknownNode),
		domain.IsKind(err, domain.ErrUnknownVersion),
		domain.IsKind(err, domain.ErrUnknownItem):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrCycleDetected),
		domain.IsKind(err, domain.ErrAlreadyResolved):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
