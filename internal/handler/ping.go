package handler

import (
	"io"
	"net/http"

	"github.com/stebofarm/gateway/internal/auth"
	"github.com/stebofarm/gateway/internal/handler/dto"
	"github.com/stebofarm/gateway/internal/middleware"
)

// Ping handles GET|POST /api/v1/ping behind the signature verifier. It
// reports who called and how many body bytes arrived.
func Ping(w http.ResponseWriter, r *http.Request) {
	caller := auth.CallerFromContext(r.Context())
	if caller == nil {
		writeError(w, http.StatusForbidden, "MISSING_IDENTITY", "Missing frontend identity")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable request body")
		return
	}

	writeJSON(w, http.StatusOK, dto.PingResponse{
		Frontend:   caller.FrontendName,
		FrontendID: caller.FrontendID,
		BodyBytes:  len(body),
		RequestID:  middleware.GetRequestID(r.Context()),
	})
}
