package player

import (
	"context"
	"sync"

	"github.com/justchokingaround/ciphertv/internal/eventbus"
)

// fakeMedia behaves like a media element: every mutation is echoed back as
// the matching native event
type fakeMedia struct {
	mu  sync.Mutex
	bus *eventbus.Bus[MediaEvent]

	native     bool
	playErr    error
	loadErr    error
	loaded     []string
	subtitles  []string
	seeks      []float64
	plays      int
	pauses     int
	volume     float64
	muted      bool
	fullscreen bool
	position   float64
	duration   float64
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{bus: eventbus.New[MediaEvent](), volume: 1}
}

func (m *fakeMedia) CanPlayNative() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native
}

func (m *fakeMedia) Load(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, url)
	return m.loadErr
}

func (m *fakeMedia) AddSubtitle(ctx context.Context, url, lang string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subtitles = append(m.subtitles, url)
	return nil
}

func (m *fakeMedia) Play(ctx context.Context) error {
	m.mu.Lock()
	m.plays++
	err := m.playErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit(MediaEvent{Kind: MediaPlay})
	return nil
}

func (m *fakeMedia) Pause(ctx context.Context) error {
	m.mu.Lock()
	m.pauses++
	m.mu.Unlock()
	m.emit(MediaEvent{Kind: MediaPause})
	return nil
}

func (m *fakeMedia) Seek(ctx context.Context, seconds float64) error {
	m.mu.Lock()
	m.seeks = append(m.seeks, seconds)
	m.position = seconds
	m.mu.Unlock()
	m.emit(MediaEvent{Kind: MediaTimeUpdate, Time: seconds})
	return nil
}

func (m *fakeMedia) SetVolume(ctx context.Context, volume float64) error {
	m.mu.Lock()
	m.volume = volume
	evt := MediaEvent{Kind: MediaVolumeChange, Volume: m.volume, Muted: m.muted}
	m.mu.Unlock()
	m.emit(evt)
	return nil
}

func (m *fakeMedia) SetMuted(ctx context.Context, muted bool) error {
	m.mu.Lock()
	m.muted = muted
	evt := MediaEvent{Kind: MediaVolumeChange, Volume: m.volume, Muted: m.muted}
	m.mu.Unlock()
	m.emit(evt)
	return nil
}

func (m *fakeMedia) SetFullscreen(ctx context.Context, fullscreen bool) error {
	m.mu.Lock()
	m.fullscreen = fullscreen
	m.mu.Unlock()
	m.emit(MediaEvent{Kind: MediaFullscreenChange, Fullscreen: fullscreen})
	return nil
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *fakeMedia) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *fakeMedia) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *fakeMedia) Fullscreen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullscreen
}

func (m *fakeMedia) Subscribe(fn func(MediaEvent)) func() {
	return m.bus.Subscribe(fn)
}

func (m *fakeMedia) emit(evt MediaEvent) {
	m.bus.Publish(evt)
}

func (m *fakeMedia) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loaded...)
}

func (m *fakeMedia) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}

// fakeClient records the engine's calls; tests emit its events by hand
type fakeClient struct {
	mu  sync.Mutex
	bus *eventbus.Bus[ClientEvent]
	cfg ClientConfig

	media      MediaOutput
	loaded     []string
	startLoads int
	recoveries int
	destroyed  bool
}

func (c *fakeClient) AttachMedia(media MediaOutput) {
	c.mu.Lock()
	c.media = media
	c.mu.Unlock()
	c.emit(ClientEvent{Kind: ClientMediaAttached})
}

func (c *fakeClient) LoadSource(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = append(c.loaded, url)
}

func (c *fakeClient) StartLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLoads++
}

func (c *fakeClient) RecoverMediaError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoveries++
}

func (c *fakeClient) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

func (c *fakeClient) Subscribe(fn func(ClientEvent)) func() {
	return c.bus.Subscribe(fn)
}

func (c *fakeClient) emit(evt ClientEvent) {
	c.bus.Publish(evt)
}

func (c *fakeClient) fatal(t ErrorType) {
	c.emit(ClientEvent{Kind: ClientError, Err: &StreamError{Type: t, Fatal: true}})
}

func (c *fakeClient) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.loaded...)
}

func (c *fakeClient) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	err     error
}

func (f *fakeFactory) New(cfg ClientConfig) (StreamClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeClient{bus: eventbus.New[ClientEvent](), cfg: cfg}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) Last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

func (f *fakeFactory) At(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}
