package httpadapter

import (
	"net/http"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

// statusByKind is checked in order; the first matching kind wins.
var statusByKind = []struct {
	kind   error
	status int
}{
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrTemporary, http.StatusServiceUnavailable},
	{domain.ErrRetrievalFailed, http.StatusBadGateway},
}

func mapErrorToHTTPStatus(err error) int {
	for _, m := range statusByKind {
		if domain.IsKind(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
