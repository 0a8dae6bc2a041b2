package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// authToken is a per-process-launch bearer token. Clients read it from the
// startup log or the token file; it expires after the configured TTL and the
// process must be restarted to mint a new one.
type authToken struct {
	value     string
	expiresAt time.Time
	logger    *slog.Logger
	now       func() time.Time
}

func newAuthToken(ttl time.Duration, logger *slog.Logger) *authToken {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &authToken{
		value:     uuid.NewString(),
		expiresAt: time.Now().Add(ttl),
		logger:    logger,
		now:       time.Now,
	}
}

// Token returns the bearer value for startup logging.
func (t *authToken) Token() string { return t.value }

// authorize checks the request against the launch token. The Authorization
// header is the supported path; the auth query parameter still works but is
// deprecated and logged as such.
func (t *authToken) authorize(r *http.Request) bool {
	if t.now().After(t.expiresAt) {
		return false
	}
	candidate := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		candidate = strings.TrimPrefix(auth, "Bearer ")
	} else if q := r.URL.Query().Get("auth"); q != "" {
		t.logger.Warn("gateway: auth query parameter is deprecated, use the Authorization header",
			"remote", r.RemoteAddr)
		candidate = q
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(t.value)) == 1
}
