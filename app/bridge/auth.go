package bridge

import (
	"net/http"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"
)

// authMiddleware checks basic auth password against bcrypt hash, user name is ignored.
// Ping stays open for health checks.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			next.ServeHTTP(w, r)
			return
		}
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)) != nil {
			if ok {
				log.Printf("[WARN] bridge auth failed from %s", r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="steadystate"`)
			s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
