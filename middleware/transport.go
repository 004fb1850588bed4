package middleware

import (
	"errors"
	"net/http"
)

// ErrNoSession is returned by Transport when nobody is signed in. No request
// reaches the network in that case.
var ErrNoSession = errors.New("no signed-in session")

// Transport authenticates outgoing requests with the current session token.
type Transport struct {
	Source SessionSource
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Source == nil {
		return nil, ErrNoSession
	}
	s := t.Source.Session()
	if !s.Valid() {
		return nil, ErrNoSession
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+s.Token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}
