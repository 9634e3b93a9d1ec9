package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
)

type meResponse struct {
	Author        string `json:"author"`
	Authenticated bool   `json:"authenticated"`
}

// Me отвечает, от чьего имени будут приняты архивы этого запроса.
// Без AR_JWKS_URL автор всегда "anonymous".
func Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, meResponse{
		Author:        middleware.AuthorFromContext(r.Context()),
		Authenticated: middleware.SubjectFromContext(r.Context()) != "",
	})
}
