package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is how long an issued bearer token remains valid.
const tokenTTL = 12 * time.Hour

// handleIssueToken signs a bearer token for the {id} subject. This handler
// is only ever reachable on the localhost-only listener.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("id")
	if subject == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.deps.JWTSecret)
	if err != nil {
		http.Error(w, "could not sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": signed})
}
