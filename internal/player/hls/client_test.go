package hls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grafov/m3u8"
	"github.com/justchokingaround/ciphertv/internal/eventbus"
	"github.com/justchokingaround/ciphertv/internal/httpclient"
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/proxy"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	masterURL = "https://cdn.example/show/master.m3u8"

	masterBody = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
720/index.m3u8
`
	mediaBody = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-KEY:METHOD=AES-128,URI="key.bin"
#EXTINF:10.000,
seg-0.ts
#EXTINF:10.000,
seg-1.ts
#EXT-X-ENDLIST
`
)

type mediaStub struct {
	mu       sync.Mutex
	bus      *eventbus.Bus[player.MediaEvent]
	loaded   []string
	seeks    []float64
	position float64
}

func newMediaStub() *mediaStub {
	return &mediaStub{bus: eventbus.New[player.MediaEvent]()}
}

func (m *mediaStub) CanPlayNative() bool { return false }
func (m *mediaStub) Load(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, url)
	return nil
}
func (m *mediaStub) AddSubtitle(ctx context.Context, url, lang string) error { return nil }
func (m *mediaStub) Play(ctx context.Context) error                          { return nil }
func (m *mediaStub) Pause(ctx context.Context) error                         { return nil }
func (m *mediaStub) Seek(ctx context.Context, seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, seconds)
	return nil
}
func (m *mediaStub) SetVolume(ctx context.Context, volume float64) error      { return nil }
func (m *mediaStub) SetMuted(ctx context.Context, muted bool) error           { return nil }
func (m *mediaStub) SetFullscreen(ctx context.Context, fullscreen bool) error { return nil }
func (m *mediaStub) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}
func (m *mediaStub) Duration() float64 { return 0 }
func (m *mediaStub) Muted() bool       { return false }
func (m *mediaStub) Fullscreen() bool  { return false }
func (m *mediaStub) Subscribe(fn func(player.MediaEvent)) func() {
	return m.bus.Subscribe(fn)
}

func (m *mediaStub) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loaded...)
}

func (m *mediaStub) Seeks() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.seeks...)
}

type fixture struct {
	mu      sync.Mutex
	origins map[string]string

	client *Client
	media  *mediaStub
	fs     afero.Fs
	proxy  *proxy.Rewriter
	events chan player.ClientEvent
}

// newFixture serves origins through a fake proxy endpoint at /proxy?url=
func newFixture(t *testing.T, origins map[string]string) *fixture {
	t.Helper()
	f := &fixture{origins: origins, events: make(chan player.ClientEvent, 32)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body, ok := f.origins[r.URL.Query().Get("url")]
		f.mu.Unlock()
		if r.URL.Path != "/proxy" || !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	rw := proxy.New(server.URL + "/proxy?url=")
	fs := afero.NewMemMapFs()
	client, err := New(player.ClientConfig{
		Intercept:     rw.Rewrite,
		Origin:        rw.Unwrap,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 40 * time.Millisecond,
	}, Options{
		HTTP:     httpclient.NewClient(httpclient.ClientConfig{MaxRetries: -1, Timeout: 5 * time.Second}),
		Fs:       fs,
		SpoolDir: "/spool",
	})
	require.NoError(t, err)
	t.Cleanup(client.Destroy)

	f.client = client
	f.media = newMediaStub()
	f.fs = fs
	f.proxy = rw
	client.Subscribe(func(evt player.ClientEvent) { f.events <- evt })
	return f
}

func (f *fixture) set(origin, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origins[origin] = body
}

func (f *fixture) next(t *testing.T) player.ClientEvent {
	t.Helper()
	select {
	case evt := <-f.events:
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client event")
		return player.ClientEvent{}
	}
}

func (f *fixture) attachAndLoad(t *testing.T, source string) {
	t.Helper()
	f.client.AttachMedia(f.media)
	require.Equal(t, player.ClientMediaAttached, f.next(t).Kind)
	f.client.LoadSource(f.proxy.Rewrite(source))
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestClient_LoadsMasterThroughProxy(t *testing.T) {
	f := newFixture(t, map[string]string{
		masterURL: masterBody,
		"https://cdn.example/show/360/index.m3u8": mediaBody,
		"https://cdn.example/show/720/index.m3u8": mediaBody,
	})
	f.attachAndLoad(t, masterURL)

	evt := f.next(t)
	require.Equal(t, player.ClientManifestParsed, evt.Kind, "unexpected event %+v", evt.Err)
	assert.Equal(t, []string{"360p", "720p"}, evt.Levels)

	loaded := f.media.Loaded()
	require.Len(t, loaded, 1)
	master := f.read(t, loaded[0])
	assert.Contains(t, master, "level-0.m3u8")
	assert.Contains(t, master, "level-1.m3u8")
	assert.NotContains(t, master, "360/index.m3u8")

	variant := f.read(t, strings.Replace(loaded[0], "master.m3u8", "level-1.m3u8", 1))
	assert.Contains(t, variant, f.proxy.Rewrite("https://cdn.example/show/720/seg-0.ts"))
	assert.Contains(t, variant, f.proxy.Rewrite("https://cdn.example/show/720/seg-1.ts"))
	assert.Contains(t, variant, f.proxy.Rewrite("https://cdn.example/show/720/key.bin"))
	assert.NotContains(t, variant, `URI="key.bin"`)
}

func TestClient_LoadsMediaPlaylist(t *testing.T) {
	source := "https://cdn.example/show/360/index.m3u8"
	f := newFixture(t, map[string]string{source: mediaBody})
	f.attachAndLoad(t, source)

	evt := f.next(t)
	require.Equal(t, player.ClientManifestParsed, evt.Kind)
	assert.Empty(t, evt.Levels)

	loaded := f.media.Loaded()
	require.Len(t, loaded, 1)
	assert.True(t, strings.HasSuffix(loaded[0], "index.m3u8"))
	assert.Contains(t, f.read(t, loaded[0]), f.proxy.Rewrite("https://cdn.example/show/360/seg-0.ts"))
}

func TestClient_ManifestErrors(t *testing.T) {
	t.Run("unreachable manifest is a fatal network error", func(t *testing.T) {
		f := newFixture(t, map[string]string{})
		f.attachAndLoad(t, masterURL)

		evt := f.next(t)
		require.Equal(t, player.ClientError, evt.Kind)
		assert.Equal(t, player.ErrorTypeNetwork, evt.Err.Type)
		assert.True(t, evt.Err.Fatal)
		assert.Equal(t, "manifestLoadError", evt.Err.Details)
		assert.True(t, httpclient.IsStatus(evt.Err, http.StatusNotFound))
		assert.Empty(t, f.media.Loaded())
	})

	t.Run("garbage manifest is unrecoverable", func(t *testing.T) {
		f := newFixture(t, map[string]string{masterURL: "<html>blocked</html>"})
		f.attachAndLoad(t, masterURL)

		evt := f.next(t)
		require.Equal(t, player.ClientError, evt.Kind)
		assert.Equal(t, player.ClassUnrecoverable, player.Classify(evt.Err))
	})

	t.Run("one broken level is non-fatal", func(t *testing.T) {
		f := newFixture(t, map[string]string{
			masterURL: masterBody,
			"https://cdn.example/show/720/index.m3u8": mediaBody,
		})
		f.attachAndLoad(t, masterURL)

		evt := f.next(t)
		require.Equal(t, player.ClientError, evt.Kind)
		assert.False(t, evt.Err.Fatal)

		evt = f.next(t)
		require.Equal(t, player.ClientManifestParsed, evt.Kind)
		assert.Equal(t, []string{"720p"}, evt.Levels)
	})

	t.Run("no reachable level is a fatal network error", func(t *testing.T) {
		f := newFixture(t, map[string]string{masterURL: masterBody})
		f.attachAndLoad(t, masterURL)

		var evt player.ClientEvent
		for i := 0; i < 3; i++ {
			evt = f.next(t)
			if evt.Err != nil && evt.Err.Fatal {
				break
			}
		}
		require.NotNil(t, evt.Err)
		assert.Equal(t, player.ClassNetworkFatal, player.Classify(evt.Err))
	})
}

func TestClient_StartLoadRetries(t *testing.T) {
	f := newFixture(t, map[string]string{})

	f.attachAndLoad(t, "https://cdn.example/show/360/index.m3u8")
	evt := f.next(t)
	require.Equal(t, player.ClientError, evt.Kind)

	f.set("https://cdn.example/show/360/index.m3u8", mediaBody)

	f.client.StartLoad()
	evt = f.next(t)
	assert.Equal(t, player.ClientManifestParsed, evt.Kind)
}

func TestClient_MediaErrorRecovery(t *testing.T) {
	source := "https://cdn.example/show/360/index.m3u8"
	f := newFixture(t, map[string]string{source: mediaBody})
	f.attachAndLoad(t, source)
	require.Equal(t, player.ClientManifestParsed, f.next(t).Kind)

	f.media.mu.Lock()
	f.media.position = 95
	f.media.mu.Unlock()

	f.media.bus.Publish(player.MediaEvent{Kind: player.MediaError})
	evt := f.next(t)
	require.Equal(t, player.ClientError, evt.Kind)
	assert.Equal(t, player.ClassMediaFatal, player.Classify(evt.Err))

	f.client.RecoverMediaError()
	require.Eventually(t, func() bool { return len(f.media.Loaded()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, f.media.Loaded()[0], f.media.Loaded()[1])

	f.media.bus.Publish(player.MediaEvent{Kind: player.MediaLoadedMetadata})
	require.Eventually(t, func() bool { return len(f.media.Seeks()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{95}, f.media.Seeks())

	// failing again right after a recovery gives up on this source
	f.media.bus.Publish(player.MediaEvent{Kind: player.MediaError})
	evt = f.next(t)
	require.Equal(t, player.ClientError, evt.Kind)
	assert.Equal(t, player.ClassUnrecoverable, player.Classify(evt.Err))
}

func TestClient_Destroy(t *testing.T) {
	source := "https://cdn.example/show/360/index.m3u8"
	f := newFixture(t, map[string]string{source: mediaBody})
	f.attachAndLoad(t, source)
	require.Equal(t, player.ClientManifestParsed, f.next(t).Kind)

	f.client.Destroy()
	f.client.Destroy()

	exists, err := afero.DirExists(f.fs, f.client.dir)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, f.media.bus.Len())

	f.client.LoadSource(f.proxy.Rewrite(source))
	f.media.bus.Publish(player.MediaEvent{Kind: player.MediaError})
	select {
	case evt := <-f.events:
		t.Fatalf("unexpected event after destroy: %v", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_Backoff(t *testing.T) {
	c := &Client{cfg: player.ClientConfig{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: time.Second}}

	assert.Equal(t, 100*time.Millisecond, c.backoff(1))
	assert.Equal(t, 200*time.Millisecond, c.backoff(2))
	assert.Equal(t, 800*time.Millisecond, c.backoff(4))
	assert.Equal(t, time.Second, c.backoff(5))
	assert.Equal(t, time.Second, c.backoff(50))
}

func TestRewriteMedia(t *testing.T) {
	playlist, listType, err := decode([]byte(mediaBody))
	require.NoError(t, err)
	require.Equal(t, m3u8.MEDIA, listType)

	intercept := func(u string) string { return "https://proxy.example/?url=" + u }
	n, err := rewriteMedia(playlist.(*m3u8.MediaPlaylist), "https://cdn.example/a/index.m3u8", intercept)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := playlist.(*m3u8.MediaPlaylist).Encode().String()
	assert.Contains(t, out, "https://proxy.example/?url=https://cdn.example/a/seg-0.ts")
	assert.Contains(t, out, "https://proxy.example/?url=https://cdn.example/a/key.bin")
}

func TestDecodeRejectsNonPlaylists(t *testing.T) {
	_, _, err := decode([]byte("<html></html>"))
	assert.Error(t, err)
}

func TestLevelLabel(t *testing.T) {
	assert.Equal(t, "1080p", levelLabel(&m3u8.Variant{VariantParams: m3u8.VariantParams{Resolution: "1920x1080"}}))
	assert.Equal(t, "high", levelLabel(&m3u8.Variant{VariantParams: m3u8.VariantParams{Name: "high"}}))
	assert.Equal(t, "800k", levelLabel(&m3u8.Variant{VariantParams: m3u8.VariantParams{Bandwidth: 800000}}))
}
