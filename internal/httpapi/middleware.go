package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const ctxKeySubject ctxKey = iota

// ipAllowlistMiddleware rejects any request whose remote address is not in
// AuthorizedIPs. An empty list allows everything, matching an unset
// AUTHORIZED_IPS env var.
func (s *Server) ipAllowlistMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.deps.AuthorizedIPs) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		for _, allowed := range s.deps.AuthorizedIPs {
			if allowed == host {
				next.ServeHTTP(w, r)
				return
			}
		}
		s.logger.Warn("rejected request from unauthorized ip", "remote_addr", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

// authMiddleware verifies the bearer token on every route except /token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/token/") {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return s.deps.JWTSecret, nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		subject, _ := claims.GetSubject()
		ctx := context.WithValue(r.Context(), ctxKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogMiddleware records one access_logs row per request that reaches
// it. It runs after the allow-list and auth middlewares, so requests they
// reject (403/401) are not recorded; authorized is false only when a
// handler itself answers 401 or 403.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.deps.Store == nil {
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		authorized := rec.status != http.StatusUnauthorized && rec.status != http.StatusForbidden
		var identifier *string
		if subj, ok := r.Context().Value(ctxKeySubject).(string); ok && subj != "" {
			identifier = &subj
		}
		if err := s.deps.Store.InsertAccessLog(r.Context(), host, authorized, identifier, r.URL.Path, r.Method); err != nil {
			s.logger.Error("could not insert access log", "error", err)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
