package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/osus-project/osus-proxy/internal/config"
	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/interceptor"
	"github.com/osus-project/osus-proxy/internal/preferences"
	"github.com/osus-project/osus-proxy/internal/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// seenRequest is what the fake backend observed.
type seenRequest struct {
	Host           string
	Path           string
	ForwardedFor   string
	RealIP         string
	AcceptEncoding string
	Body           []byte
}

type fakeBackend struct {
	*httptest.Server
	mu       sync.Mutex
	seen     []seenRequest
	respBody []byte
}

func newFakeBackend(t *testing.T, respBody []byte) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{respBody: respBody}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.seen = append(fb.seen, seenRequest{
			Host:           r.Host,
			Path:           r.URL.Path,
			ForwardedFor:   r.Header.Get("X-Forwarded-For"),
			RealIP:         r.Header.Get("X-Real-IP"),
			AcceptEncoding: r.Header.Get("Accept-Encoding"),
			Body:           body,
		})
		fb.mu.Unlock()
		w.Header().Set("cho-protocol", "19")
		w.Write(fb.respBody)
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) requests() []seenRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]seenRequest(nil), fb.seen...)
}

// dialTo sends every backend connection to addr whatever host was asked for.
func dialTo(addr string) *http.Transport {
	return &http.Transport{
		DisableCompression: true,
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

func testProxyConfig() config.ProxyConfig {
	return config.DefaultConfig().GetProxy()
}

func newTestProxy(t *testing.T, backendAddr string, prefs preferences.Preferences, bus *events.EventBus) (*Proxy, *preferences.Store) {
	t.Helper()
	cfg := testProxyConfig()
	store := preferences.NewStore(prefs)
	tc := interceptor.NewTranscoder(interceptor.NewPipeline(cfg.SourceDomain, bus), store)
	p := NewProxy(cfg, store, tc, bus, WithTransport(dialTo(backendAddr)), WithBackendScheme("http"))
	return p, store
}

// closeNotifyRecorder satisfies http.CloseNotifier, which
// httputil.ReverseProxy asserts through gin's response writer.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func newRecorder() closeNotifyRecorder {
	return closeNotifyRecorder{httptest.NewRecorder()}
}

func doRequest(p *Proxy, method, host, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Host = host
	rec := newRecorder()
	p.Handler().ServeHTTP(rec, req)
	return rec.ResponseRecorder
}

func TestBanchoExchangeRewritesBothDirections(t *testing.T) {
	backendBody := protocol.EncodeStream([]protocol.Packet{
		&protocol.UserID{UserID: 42},
		&protocol.Privilege{Bitfield: 1},
		&protocol.UserPresence{UserID: 42, Name: "me", CountryCode: 225},
	})
	fb := newFakeBackend(t, backendBody)

	prefs := preferences.Default()
	jp := protocol.CountryJapan
	prefs.FakeCountry = &jp
	p, store := newTestProxy(t, fb.Listener.Addr().String(), prefs, nil)

	clientBody := protocol.EncodeStream([]protocol.Packet{
		&protocol.ChangeAction{Action: protocol.ActionOsuDirect},
		&protocol.SendPublicMessage{Message: protocol.Message{
			Text:      "\x01ACTION is listening to [https://osu.osus.zihad.dev/beatmapsets/1 Song]\x01",
			Recipient: "#osu",
		}},
	})

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(clientBody))
	req.Host = "c.osus.zihad.dev"
	req.Header.Set("Accept-Encoding", "gzip")
	rec := newRecorder()
	p.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	require.Equal(t, "19", rec.Header().Get("cho-protocol"))

	seen := fb.requests()
	require.Len(t, seen, 1)
	require.Equal(t, "c.ppy.sh", seen[0].Host)
	require.Equal(t, "192.0.2.1", seen[0].ForwardedFor)
	require.Equal(t, "192.0.2.1", seen[0].RealIP)
	require.Empty(t, seen[0].AcceptEncoding)
	require.Equal(t, protocol.EncodeStream([]protocol.Packet{
		&protocol.SendPublicMessage{Message: protocol.Message{
			Text:      "\x01ACTION is listening to [https://osu.ppy.sh/beatmapsets/1 Song]\x01",
			Recipient: "#osu",
		}},
	}), seen[0].Body)

	want := protocol.EncodeStream([]protocol.Packet{
		&protocol.UserID{UserID: 42},
		&protocol.Privilege{Bitfield: 0b101},
		&protocol.UserPresence{UserID: 42, Name: "me", CountryCode: protocol.CountryJapan},
	})
	require.Equal(t, want, rec.Body.Bytes())
	require.Equal(t, strconv.Itoa(len(want)), rec.Header().Get("Content-Length"))
	require.True(t, store.Snapshot().IsSelf(42))

	stats := p.Stats()
	require.Equal(t, int64(1), stats.Exchanges)
	require.Equal(t, int64(1), stats.Bancho)
	require.Equal(t, int64(5), stats.PacketsIn)
	require.Equal(t, int64(4), stats.PacketsOut)
}

func TestRoutesToConfiguredServer(t *testing.T) {
	fb := newFakeBackend(t, []byte("ok"))
	prefs := preferences.Default()
	prefs.ServerAddress = "akatsuki.gg"
	p, _ := newTestProxy(t, fb.Listener.Addr().String(), prefs, nil)

	rec := doRequest(p, http.MethodGet, "a.osus.zihad.dev", "/1", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = doRequest(p, http.MethodGet, "api.osus.zihad.dev", "/v1/get_user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	seen := fb.requests()
	require.Len(t, seen, 1)
	require.Equal(t, "api.akatsuki.gg", seen[0].Host)
	require.Equal(t, "/v1/get_user", seen[0].Path)
}

func TestUnknownHost(t *testing.T) {
	fb := newFakeBackend(t, nil)
	p, _ := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), nil)

	rec := doRequest(p, http.MethodGet, "c.example.com", "/", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "target domain for host c.example.com not found", rec.Body.String())
	require.Empty(t, fb.requests())
	require.Equal(t, int64(1), p.Stats().Failures)
}

func TestNonBanchoPassThrough(t *testing.T) {
	// Not a valid packet stream; must be forwarded untouched.
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0xff, 0xff, 0xff}
	fb := newFakeBackend(t, payload)
	p, _ := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), nil)

	req := httptest.NewRequest(http.MethodPost, "/web/osu-submit-modular.php", bytes.NewReader(payload))
	req.Host = "osu.osus.zihad.dev"
	req.Header.Set("Accept-Encoding", "gzip")
	rec := newRecorder()
	p.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payload, rec.Body.Bytes())
	seen := fb.requests()
	require.Len(t, seen, 1)
	require.Equal(t, payload, seen[0].Body)
	require.Equal(t, "gzip", seen[0].AcceptEncoding)
	require.Equal(t, int64(0), p.Stats().Bancho)
}

func TestMirrorRedirect(t *testing.T) {
	fb := newFakeBackend(t, []byte("from server"))
	p, store := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), nil)

	rec := doRequest(p, http.MethodGet, "osu.osus.zihad.dev", "/d/1234n", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://api.chimu.moe/d/1234", rec.Header().Get("Location"))
	require.Empty(t, fb.requests())

	mirror := preferences.MirrorServerDefault
	_, err := store.Apply(preferences.Patch{BeatmapMirror: &mirror})
	require.NoError(t, err)

	rec = doRequest(p, http.MethodGet, "osu.osus.zihad.dev", "/d/1234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "from server", rec.Body.String())
	require.Len(t, fb.requests(), 1)
}

func TestMirrorRedirectIgnoresOtherPaths(t *testing.T) {
	fb := newFakeBackend(t, []byte("x"))
	p, _ := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), nil)

	for _, path := range []string{"/d/abc", "/beatmapsets/1", "/d/"} {
		rec := doRequest(p, http.MethodGet, "osu.osus.zihad.dev", path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	// Only the osu host redirects.
	rec := doRequest(p, http.MethodGet, "b.osus.zihad.dev", "/d/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fb.requests(), 4)
}

func TestBackendUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p, _ := newTestProxy(t, addr, preferences.Default(), nil)
	rec := doRequest(p, http.MethodGet, "osu.osus.zihad.dev", "/home", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "error fetching: ")
	require.Equal(t, int64(1), p.Stats().Failures)
}

func TestMalformedResponseFailsExchange(t *testing.T) {
	bad := protocol.ToWire(&protocol.Other{PacketID: 12, Data: make([]byte, 32)})[:protocol.HeaderSize+4]
	fb := newFakeBackend(t, bad)
	p, _ := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), nil)

	rec := doRequest(p, http.MethodPost, "c4.osus.zihad.dev", "/", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to process bancho packets")
}

func TestMalformedRequestNeverReachesBackend(t *testing.T) {
	fb := newFakeBackend(t, nil)
	p, _ := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), nil)

	body := protocol.NewPacketBuilder().
		WriteUint8(protocol.StringPresent).WriteUleb128(1).WriteBytes([]byte{0xff}).
		WriteString("t").WriteString("#osu").WriteInt32(0).
		BuildWithHeader(protocol.IDSendPublicMessage)

	rec := doRequest(p, http.MethodPost, "ce.osus.zihad.dev", "/", body)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, fb.requests())
}

func TestExchangeEvents(t *testing.T) {
	fb := newFakeBackend(t, protocol.EncodeStream([]protocol.Packet{&protocol.UserID{UserID: 1}}))
	bus := events.NewEventBus()

	got := make(chan events.ExchangePayload, 2)
	bus.Subscribe(events.EventExchangeCompleted, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.ExchangePayload)
		return nil
	})
	bus.Subscribe(events.EventExchangeFailed, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.ExchangePayload)
		return nil
	})

	p, _ := newTestProxy(t, fb.Listener.Addr().String(), preferences.Default(), bus)
	doRequest(p, http.MethodPost, "c.osus.zihad.dev", "/", nil)
	doRequest(p, http.MethodGet, "nope.osus.zihad.dev", "/", nil)

	var results []events.ExchangePayload
	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			results = append(results, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("missing exchange event")
		}
	}
	bus.Stop()

	var ok, failed int
	for _, r := range results {
		require.NotEmpty(t, r.RequestID)
		if r.Error == "" {
			ok++
			require.True(t, r.Bancho)
			require.Equal(t, "c.ppy.sh", r.Backend)
			require.Equal(t, 1, r.PacketsIn)
		} else {
			failed++
			require.Equal(t, http.StatusInternalServerError, r.Status)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
}
