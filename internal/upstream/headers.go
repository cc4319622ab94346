package upstream

import "net/http"

// headerRoundTripper clones each outgoing request and sets a fixed set of
// extra headers before delegating to an inner transport. It composes
// underneath an OAuth-aware transport when both extra_headers and oauth are
// configured for the same package.
type headerRoundTripper struct {
	headers map[string]string
	inner   http.RoundTripper
}

func withExtraHeaders(headers map[string]string, inner http.RoundTripper) http.RoundTripper {
	if len(headers) == 0 {
		return inner
	}
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &headerRoundTripper{headers: headers, inner: inner}
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}
	return h.inner.RoundTrip(clone)
}
