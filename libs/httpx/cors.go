package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists the browser origins (front desk and patient portal) allowed to call a service.
// An entry of "*" admits any origin.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsHeaders struct {
	origins     map[string]bool
	anyOrigin   bool
	credentials bool
	static      http.Header
}

func (p CORSPolicy) compile() corsHeaders {
	c := corsHeaders{origins: map[string]bool{}, credentials: p.AllowCredentials, static: http.Header{}}
	for _, o := range p.AllowedOrigins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			c.anyOrigin = true
		default:
			c.origins[strings.ToLower(o)] = true
		}
	}
	if v := joinNonEmpty(p.AllowedMethods); v != "" {
		c.static.Set("Access-Control-Allow-Methods", v)
	}
	if v := joinNonEmpty(p.AllowedHeaders); v != "" {
		c.static.Set("Access-Control-Allow-Headers", v)
	}
	if secs := int(p.MaxAge / time.Second); secs > 0 {
		c.static.Set("Access-Control-Max-Age", strconv.Itoa(secs))
	}
	if p.AllowCredentials {
		c.static.Set("Access-Control-Allow-Credentials", "true")
	}
	return c
}

// allowed returns the Access-Control-Allow-Origin value for origin, or "" to send none.
// Credentialed requests never receive the wildcard.
func (c corsHeaders) allowed(origin string) string {
	switch {
	case origin == "":
		return ""
	case c.origins[strings.ToLower(origin)]:
		return origin
	case c.anyOrigin && c.credentials:
		return origin
	case c.anyOrigin:
		return "*"
	}
	return ""
}

// WithCORS answers preflights with 204 and decorates responses for allowed origins. With no
// origins configured it passes requests through untouched.
func WithCORS(p CORSPolicy) Middleware {
	c := p.compile()
	if !c.anyOrigin && len(c.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allow := c.allowed(r.Header.Get("Origin"))
			if allow == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			for k, v := range c.static {
				h[k] = v
			}
			h.Set("Access-Control-Allow-Origin", allow)
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinNonEmpty(values []string) string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}
