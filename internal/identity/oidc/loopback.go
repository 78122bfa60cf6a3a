package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

type callbackResult struct {
	code  string
	state string
	err   error
}

// loopback receives a single authorization response on the redirect URL.
type loopback struct {
	ln       net.Listener
	srv      *http.Server
	redirect *url.URL
	results  chan callbackResult
}

func listenLoopback(redirectURL string) (*loopback, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("oidc: redirect url: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("oidc: redirect url %q is not a loopback http url", redirectURL)
	}
	ip := net.ParseIP(u.Hostname())
	if u.Hostname() != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("oidc: redirect host %q is not loopback", u.Hostname())
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("oidc: listen %s: %w", u.Host, err)
	}

	redirect := *u
	redirect.Host = net.JoinHostPort(u.Hostname(), fmt.Sprint(ln.Addr().(*net.TCPAddr).Port))
	if redirect.Path == "" {
		redirect.Path = "/"
	}

	lb := &loopback{ln: ln, redirect: &redirect, results: make(chan callbackResult, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, lb.handle)
	lb.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = lb.srv.Serve(ln) }()
	return lb, nil
}

func (l *loopback) RedirectURL() string { return l.redirect.String() }

func (l *loopback) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := callbackResult{code: q.Get("code"), state: q.Get("state")}
	if e := q.Get("error"); e != "" {
		res.err = fmt.Errorf("oidc: authorization failed: %s %s", e, q.Get("error_description"))
	} else if res.code == "" {
		res.err = errors.New("oidc: authorization response without code")
	}
	select {
	case l.results <- res:
	default:
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if res.err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintln(w, "Sign-in failed. You can close this window.")
		return
	}
	_, _ = fmt.Fprintln(w, "Signed in. You can close this window.")
}

// Wait blocks until the callback arrives or ctx ends.
func (l *loopback) Wait(ctx context.Context, state string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-l.results:
		if res.err != nil {
			return "", res.err
		}
		if res.state != state {
			return "", ErrStateMismatch
		}
		return res.code, nil
	}
}

func (l *loopback) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.srv.Shutdown(ctx)
}
