package handler

import (
	"net/http"

	"github.com/noncegate/noncegate/internal/auth"
)

// Principal handles GET /api/v1/principal, echoing the key that made the call.
func Principal(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
