// Package network contains the TLS reverse proxy that sits between the game
// client and the real server.
//
// The client is pointed at "<sub>.<source domain>" hosts. Each request is
// routed to "<sub>.<server address>", and Bancho bodies on the c, ce and c4
// hosts are run through the interceptor in both directions.
package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/interceptor"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/util"
)

const (
	// MaxBanchoBody caps a request or response body that is decoded in memory.
	MaxBanchoBody = 16 << 20

	// RequestIDHeader is set on every proxied response.
	RequestIDHeader = "X-Osus-Request-Id"
)

// errBodyTooLarge is returned when a Bancho body exceeds MaxBanchoBody.
var errBodyTooLarge = errors.New("bancho body too large")

// transcodeError marks a failure to process packets, as opposed to a
// failure to reach the backend.
type transcodeError struct {
	err error
}

func (e *transcodeError) Error() string { return "failed to process bancho packets: " + e.err.Error() }
func (e *transcodeError) Unwrap() error { return e.err }

// exchange is per-request state shared between the handler and the
// ReverseProxy callbacks.
type exchange struct {
	id         string
	start      time.Time
	route      Route
	backend    string
	bancho     bool
	clientIP   string
	packetsIn  int
	packetsOut int
	failed     bool
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

// Stats are running totals since start.
type Stats struct {
	Exchanges  int64 `json:"exchanges"`
	Bancho     int64 `json:"bancho_exchanges"`
	Failures   int64 `json:"failures"`
	Redirects  int64 `json:"redirects"`
	PacketsIn  int64 `json:"packets_in"`
	PacketsOut int64 `json:"packets_out"`
}

type counters struct {
	exchanges, bancho, failures, redirects, packetsIn, packetsOut atomic.Int64
}

// Option customizes a Proxy.
type Option func(*Proxy)

// WithTransport replaces the backend transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) { p.transport = rt }
}

// WithBackendScheme sets the scheme used to reach the backend ("https"
// unless overridden).
func WithBackendScheme(scheme string) Option {
	return func(p *Proxy) { p.scheme = scheme }
}

// Proxy is the TLS-terminating reverse proxy.
type Proxy struct {
	cfg        config.ProxyConfig
	router     *Router
	store      *preferences.Store
	transcoder *interceptor.Transcoder
	bus        *events.EventBus
	logger     zerolog.Logger

	scheme    string
	transport http.RoundTripper
	engine    *gin.Engine
	rp        *httputil.ReverseProxy
	server    *http.Server

	stats   counters
	stopped atomic.Bool
}

// NewProxy creates a proxy. bus may be nil.
func NewProxy(cfg config.ProxyConfig, store *preferences.Store, transcoder *interceptor.Transcoder, bus *events.EventBus, opts ...Option) *Proxy {
	p := &Proxy{
		cfg:        cfg,
		router:     NewRouter(cfg.SourceDomain, cfg.Subdomains, cfg.DefaultTargetDomain),
		store:      store,
		transcoder: transcoder,
		bus:        bus,
		logger:     util.ComponentLogger("proxy"),
		scheme:     "https",
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = time.Duration(cfg.BackendTimeoutSec) * time.Second
		t.ForceAttemptHTTP2 = false
		t.DisableCompression = true
		p.transport = t
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      p.transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}

	p.engine = gin.New()
	p.engine.Use(gin.Recovery())
	p.engine.Any("/*path", p.handle)

	return p
}

// Handler returns the proxy's HTTP handler.
func (p *Proxy) Handler() http.Handler {
	return p.engine
}

// Stats returns a snapshot of the running totals.
func (p *Proxy) Stats() Stats {
	return Stats{
		Exchanges:  p.stats.exchanges.Load(),
		Bancho:     p.stats.bancho.Load(),
		Failures:   p.stats.failures.Load(),
		Redirects:  p.stats.redirects.Load(),
		PacketsIn:  p.stats.packetsIn.Load(),
		PacketsOut: p.stats.packetsOut.Load(),
	}
}

// Start listens on cfg.ListenAddr with TLS and serves until ctx is
// cancelled or Stop is called.
func (p *Proxy) Start(ctx context.Context) error {
	tlsCfg, err := ServerTLSConfig(p.cfg)
	if err != nil {
		return err
	}

	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.ListenAddr, err)
	}

	p.server = &http.Server{
		Handler:           p.engine,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		// The client only speaks HTTP/1.1; disable h2 negotiation.
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
	}

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	p.logger.Info().
		Str("addr", p.cfg.ListenAddr).
		Str("source_domain", p.cfg.SourceDomain).
		Strs("subdomains", p.cfg.Subdomains).
		Msg("proxy listening")

	err = p.server.Serve(tls.NewListener(ln, tlsCfg))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the listener down, waiting up to five seconds for
// in-flight exchanges.
func (p *Proxy) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	if p.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("proxy shutdown did not complete cleanly")
	}
	p.logger.Info().Msg("proxy stopped")
}

func (p *Proxy) handle(c *gin.Context) {
	req := c.Request
	ex := &exchange{
		id:       uuid.NewString(),
		start:    time.Now(),
		clientIP: clientIP(req),
	}
	c.Header(RequestIDHeader, ex.id)
	p.stats.exchanges.Add(1)

	route, err := p.router.Resolve(req.Host, p.store.ServerAddress())
	if err != nil {
		p.fail(ex, req, http.StatusInternalServerError, err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	ex.route = route
	ex.backend = strings.TrimPrefix(route.Target, route.Subdomain+".")

	if link, ok := p.mirrorRedirect(route, req); ok {
		p.stats.redirects.Add(1)
		p.logger.Info().
			Str("request_id", ex.id).
			Str("path", req.URL.Path).
			Str("location", link).
			Msg("redirecting beatmap download to mirror")
		c.Redirect(http.StatusFound, link)
		p.complete(ex, req, http.StatusFound)
		return
	}

	ex.bancho = route.Bancho() && req.Method == http.MethodPost && req.URL.Path == "/"
	if ex.bancho {
		p.stats.bancho.Add(1)
		if err := p.transcodeRequest(ex, req); err != nil {
			p.fail(ex, req, http.StatusInternalServerError, err)
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
	}

	c.Request = req.WithContext(context.WithValue(req.Context(), exchangeKey{}, ex))
	p.rp.ServeHTTP(c.Writer, c.Request)

	if !ex.failed {
		p.complete(ex, req, c.Writer.Status())
	}
}

// mirrorRedirect returns the mirror link for GET /d/<set id>[n] on the osu
// host when a mirror other than the server default is selected.
func (p *Proxy) mirrorRedirect(route Route, req *http.Request) (string, bool) {
	if route.Subdomain != "osu" || req.Method != http.MethodGet {
		return "", false
	}
	rest, ok := strings.CutPrefix(req.URL.Path, "/d/")
	if !ok {
		return "", false
	}
	id, err := strconv.ParseUint(strings.ReplaceAll(rest, "n", ""), 10, 32)
	if err != nil {
		return "", false
	}
	link := p.store.Mirror().DirectDownloadLink(uint32(id))
	return link, link != ""
}

func (p *Proxy) transcodeRequest(ex *exchange, req *http.Request) error {
	body, err := readBody(req.Body)
	req.Body.Close()
	if err != nil {
		return &transcodeError{err: err}
	}

	res, err := p.transcoder.Transcode(body, interceptor.Request, ex.backend)
	if err != nil {
		return &transcodeError{err: err}
	}

	ex.packetsIn += res.PacketsIn
	ex.packetsOut += res.PacketsOut
	setBody(req.Header, &req.Body, &req.ContentLength, res.Body)
	return nil
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	ex := exchangeFrom(pr.In.Context())

	pr.Out.URL.Scheme = p.scheme
	pr.Out.URL.Host = ex.route.Target
	pr.Out.Host = ex.route.Target

	if ex.clientIP != "" {
		pr.Out.Header.Set("X-Forwarded-For", ex.clientIP)
		pr.Out.Header.Set("X-Real-IP", ex.clientIP)
	}
	if ex.bancho {
		// Packets must come back uncompressed to be decoded.
		pr.Out.Header.Del("Accept-Encoding")
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	ex := exchangeFrom(resp.Request.Context())
	if ex == nil || !ex.bancho {
		return nil
	}

	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		p.logger.Warn().
			Str("request_id", ex.id).
			Str("content_encoding", enc).
			Msg("backend sent an encoded bancho body, passing through unmodified")
		return nil
	}

	body, err := readBody(resp.Body)
	resp.Body.Close()
	if err != nil {
		return &transcodeError{err: err}
	}

	res, err := p.transcoder.Transcode(body, interceptor.Response, ex.backend)
	if err != nil {
		return &transcodeError{err: err}
	}

	ex.packetsIn += res.PacketsIn
	ex.packetsOut += res.PacketsOut
	setBody(resp.Header, &resp.Body, &resp.ContentLength, res.Body)
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, req *http.Request, err error) {
	status := http.StatusBadGateway
	msg := fmt.Sprintf("error fetching: %v", err)

	var te *transcodeError
	if errors.As(err, &te) {
		status = http.StatusInternalServerError
		msg = te.Error()
	}

	if ex := exchangeFrom(req.Context()); ex != nil {
		p.fail(ex, req, status, err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

func (p *Proxy) complete(ex *exchange, req *http.Request, status int) {
	p.stats.packetsIn.Add(int64(ex.packetsIn))
	p.stats.packetsOut.Add(int64(ex.packetsOut))

	payload := p.payload(ex, req, status)
	p.logger.Debug().
		Str("request_id", ex.id).
		Str("method", req.Method).
		Str("host", req.Host).
		Str("path", req.URL.Path).
		Int("status", status).
		Bool("bancho", ex.bancho).
		Int("packets_in", ex.packetsIn).
		Int("packets_out", ex.packetsOut).
		Dur("duration", payload.Duration).
		Msg("exchange completed")
	p.bus.Publish(events.EventExchangeCompleted, "proxy", payload)
}

func (p *Proxy) fail(ex *exchange, req *http.Request, status int, err error) {
	ex.failed = true
	p.stats.failures.Add(1)

	payload := p.payload(ex, req, status)
	payload.Error = err.Error()
	p.logger.Error().
		Err(err).
		Str("request_id", ex.id).
		Str("method", req.Method).
		Str("host", req.Host).
		Str("path", req.URL.Path).
		Int("status", status).
		Msg("exchange failed")
	p.bus.Publish(events.EventExchangeFailed, "proxy", payload)
}

func (p *Proxy) payload(ex *exchange, req *http.Request, status int) events.ExchangePayload {
	now := time.Now()
	return events.ExchangePayload{
		RequestID:   ex.id,
		Method:      req.Method,
		Host:        req.Host,
		Path:        req.URL.Path,
		Backend:     ex.route.Target,
		Status:      status,
		Bancho:      ex.bancho,
		PacketsIn:   ex.packetsIn,
		PacketsOut:  ex.packetsOut,
		Duration:    now.Sub(ex.start),
		CompletedAt: now,
	}
}

func readBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, MaxBanchoBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBanchoBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// setBody swaps in a new body and keeps Content-Length in step with it.
func setBody(h http.Header, body *io.ReadCloser, length *int64, data []byte) {
	*body = io.NopCloser(bytes.NewReader(data))
	*length = int64(len(data))
	h.Set("Content-Length", strconv.Itoa(len(data)))
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
