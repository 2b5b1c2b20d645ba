package monitoring

import (
	"net/http"
	"strings"
)

// secretHeaders are never logged verbatim. Keys are canonical.
var secretHeaders = map[string]bool{
	"Authorization":           true,
	"Proxy-Authorization":     true,
	"X-Api-Key":               true,
	"X-Goog-Api-Key":          true,
	"X-Amz-Access-Key-Id":     true,
	"X-Amz-Secret-Access-Key": true,
	"X-Amz-Session-Token":     true,
	"X-Amz-Security-Token":    true,
	"Cookie":                  true,
}

// RedactSecret keeps a short prefix so operators can tell keys apart.
func RedactSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if scheme, token, ok := strings.Cut(s, " "); ok && strings.EqualFold(scheme, "bearer") {
		return scheme + " " + RedactSecret(token)
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..."
}

// RedactHeaders returns a flat copy of h safe to log.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		v := strings.Join(vs, ",")
		if secretHeaders[http.CanonicalHeaderKey(k)] {
			v = RedactSecret(v)
		}
		out[k] = v
	}
	return out
}

// RedactQuery masks ?key= style credentials in a raw query string.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	for i, p := range parts {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "key", "api_key", "apikey", "access_token":
			parts[i] = k + "=" + RedactSecret(v)
		}
	}
	return strings.Join(parts, "&")
}
