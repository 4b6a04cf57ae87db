package gateway

import (
	"cmp"
	"context"
	"crypto/subtle"
	"maps"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/flemzord/toolhost/internal/security"
)

// adminClient is the client name reported for bearer_token and basic auth.
const adminClient = "admin"

type clientKey struct{}

// clientFrom returns the name of the authenticated client of a request,
// or "" outside the auth middleware.
func clientFrom(ctx context.Context) string {
	name, _ := ctx.Value(clientKey{}).(string)
	return name
}

// authenticator checks admin requests against the configured clients.
// Credentials are resolved on every request so that rotated secrets
// take effect on reload.
type authenticator struct {
	cfg     AuthConfig
	creds   *security.CredentialStore
	audit   *security.AuditLogger
	limiter *security.RateLimiter
}

// unresolved returns the client names whose credentials reference a
// missing secret.
func (a *authenticator) unresolved() []string {
	var names []string
	for name, ref := range a.clients() {
		if _, err := a.creds.Resolve(ref); err != nil {
			names = append(names, name)
		}
	}
	if a.cfg.BasicUser != "" {
		if _, err := a.creds.Resolve(a.cfg.BasicPass); err != nil {
			names = append(names, a.cfg.BasicUser)
		}
	}
	slices.Sort(names)
	return names
}

// clients returns the bearer credentials by client name.
func (a *authenticator) clients() map[string]string {
	out := maps.Clone(a.cfg.Clients)
	if a.cfg.BearerToken != "" {
		if out == nil {
			out = make(map[string]string, 1)
		}
		out[adminClient] = a.cfg.BearerToken
	}
	return out
}

// bearer returns the client owning token. Every candidate is compared so
// the time spent does not depend on which one matches.
func (a *authenticator) bearer(token string) (string, bool) {
	var match string
	for name, ref := range a.clients() {
		want, err := a.creds.Resolve(ref)
		if err != nil || want == "" {
			continue
		}
		if constantTimeEqual(token, want) {
			match = cmp.Or(match, name)
		}
	}
	return match, match != ""
}

func (a *authenticator) basic(r *http.Request) (string, bool) {
	if a.cfg.BasicUser == "" || a.cfg.BasicPass == "" {
		return "", false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	want, err := a.creds.Resolve(a.cfg.BasicPass)
	if err != nil {
		return "", false
	}
	userOK := constantTimeEqual(user, a.cfg.BasicUser)
	passOK := constantTimeEqual(pass, want)
	return adminClient, userOK && passOK
}

// middleware rate-limits attempts per remote host, then accepts a
// bearer token of any configured client or the basic credentials.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter != nil {
			if err := a.limiter.Allow(security.KindAuth, remoteHost(r)); err != nil {
				a.emit(security.EventRateLimit, r, "", "auth attempts")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			a.emit(security.EventAuthFailure, r, "", "missing authorization header")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		client, method := "", ""
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if name, found := a.bearer(token); found {
				client, method = name, "bearer"
			}
		} else if name, found := a.basic(r); found {
			client, method = name, "basic"
		}
		if client == "" {
			a.emit(security.EventAuthFailure, r, "", "invalid credentials")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		a.emit(security.EventAuthSuccess, r, client, method)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client)))
	})
}

func (a *authenticator) emit(eventType security.EventType, r *http.Request, client, detail string) {
	if a.audit == nil {
		return
	}
	meta := requestMetadata(r)
	if client != "" {
		meta["client"] = client
	}
	a.audit.Log(security.AuditEvent{Type: eventType, Detail: detail, Metadata: meta})
}

// requestMetadata describes a request for audit events.
func requestMetadata(r *http.Request) map[string]string {
	meta := map[string]string{
		"remote_addr": r.RemoteAddr,
		"method":      r.Method,
		"path":        r.URL.Path,
	}
	if client := clientFrom(r.Context()); client != "" {
		meta["client"] = client
	}
	return meta
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
