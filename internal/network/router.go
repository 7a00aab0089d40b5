package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrHostMissing is returned when a request carries no Host header.
	ErrHostMissing = errors.New("host header not found")
	// ErrUnknownHost matches UnknownHostError.
	ErrUnknownHost = errors.New("target domain not found")
)

// UnknownHostError is returned for hosts outside the published subdomains.
type UnknownHostError struct {
	Host string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("target domain for host %s not found", e.Host)
}

func (e *UnknownHostError) Is(target error) bool {
	return target == ErrUnknownHost
}

// banchoSubdomains carry the packet protocol; the rest are plain web traffic.
var banchoSubdomains = map[string]bool{"c": true, "ce": true, "c4": true}

// Route is where one request is sent.
type Route struct {
	Subdomain string
	Host      string // as the client addressed it
	Target    string // backend host
}

// Bancho reports whether the route serves the packet protocol.
func (r Route) Bancho() bool {
	return banchoSubdomains[r.Subdomain]
}

// Router maps "<sub>.<source domain>" to "<sub>.<backend domain>".
type Router struct {
	sourceDomain  string
	subdomains    map[string]bool
	defaultDomain string
}

// NewRouter creates a router. defaultTarget is a full host such as
// "osu.ppy.sh"; its parent domain is used when no backend is configured.
func NewRouter(sourceDomain string, subdomains []string, defaultTarget string) *Router {
	r := &Router{
		sourceDomain: strings.ToLower(sourceDomain),
		subdomains:   make(map[string]bool, len(subdomains)),
	}
	for _, s := range subdomains {
		r.subdomains[strings.ToLower(s)] = true
	}

	r.defaultDomain = strings.ToLower(defaultTarget)
	if i := strings.IndexByte(r.defaultDomain, '.'); i >= 0 && strings.Contains(r.defaultDomain[i+1:], ".") {
		r.defaultDomain = r.defaultDomain[i+1:]
	}
	return r
}

// SourceDomain returns the public domain the proxy answers for.
func (r *Router) SourceDomain() string {
	return r.sourceDomain
}

// Resolve picks the backend host for a request Host header.
func (r *Router) Resolve(host, backend string) (Route, error) {
	if host == "" {
		return Route{}, ErrHostMissing
	}

	name := strings.ToLower(host)
	if h, _, err := net.SplitHostPort(name); err == nil {
		name = h
	}

	sub, ok := strings.CutSuffix(name, "."+r.sourceDomain)
	if !ok || !r.subdomains[sub] {
		return Route{}, &UnknownHostError{Host: host}
	}

	if backend == "" {
		backend = r.defaultDomain
	}

	return Route{
		Subdomain: sub,
		Host:      name,
		Target:    sub + "." + backend,
	}, nil
}
