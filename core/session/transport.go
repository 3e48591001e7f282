package session

import (
	"io"
	"net/http"
)

// Transport wraps base so that requests carry the access token and survive a single token expiry:
// a 401 triggers a refresh and one replay with the new token.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{mgr: m, base: base}
}

// Client returns an http.Client using Transport(base).
func (m *Manager) Client(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: m.Transport(base)}
}

type transport struct {
	mgr  *Manager
	base http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if skipsAuth(ctx) {
		return t.base.RoundTrip(req)
	}

	token := t.mgr.accessToken()
	resp, err := t.base.RoundTrip(withToken(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || isRetried(ctx) || token == "" {
		// anonymous callers get the server's own answer
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		// body already consumed, cannot replay
		return resp, nil
	}

	fresh, err := t.mgr.refresh(ctx, token)
	discard(resp)
	if err != nil {
		return nil, err
	}

	replay := req.Clone(withRetried(ctx))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		replay.Body = body
	}
	return t.base.RoundTrip(withToken(replay, fresh))
}

func withToken(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token == "" {
		r.Header.Del("Authorization")
	} else {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
