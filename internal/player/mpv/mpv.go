// Package mpv implements player.MediaOutput on top of an mpv process driven
// through its JSON IPC interface.
package mpv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/diniamo/gopv"
	"github.com/justchokingaround/ciphertv/internal/config"
	"github.com/justchokingaround/ciphertv/internal/eventbus"
	"github.com/justchokingaround/ciphertv/internal/player"
)

var (
	errNotStarted = errors.New("mpv is not running")
	errClosed     = errors.New("mpv output is closed")
	errLoadFailed = errors.New("mpv could not open the stream")
)

// Options configures an mpv media output
type Options struct {
	Player  config.PlayerConfig
	Stream  config.StreamConfig
	Headers map[string]string
	Title   string
	Debug   bool
}

// maxPollFailures consecutive failed polls mean the IPC connection is gone
const maxPollFailures = 3

// requestFunc sends one IPC command and returns its data field
type requestFunc func(args ...any) (any, error)

// properties is one polled snapshot of mpv state
type properties struct {
	timePos    float64
	duration   float64
	volume     float64
	paused     bool
	muted      bool
	fullscreen bool
	eof        bool
	idle       bool
	path       string
}

// written is a property value set over IPC that no poll has read back yet
type written struct {
	value any
	seq   uint64
}

// Output is a player.MediaOutput backed by mpv
type Output struct {
	mu sync.Mutex

	opts       Options
	logger     *slog.Logger
	platform   Platform
	executable string

	endpoint *Endpoint
	cmd      *exec.Cmd
	request  requestFunc
	bus      *eventbus.Bus[player.MediaEvent]

	props properties
	// getters prefer values written since the last poll, so callers reading
	// right after a mutation see it before mpv reports it
	written  map[string]written
	writeSeq uint64
	target   string
	loadGen  uint64
	loading  bool
	opened   bool
	failures int

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

var _ player.MediaOutput = (*Output)(nil)

// New creates an mpv output. The process is launched by Start.
func New(opts Options, logger *slog.Logger) (*Output, error) {
	platform := DetectPlatform()
	executable, err := FindExecutable(platform)
	if err != nil {
		return nil, fmt.Errorf("mpv not found: %w", err)
	}

	o := newOutput(opts, logger)
	o.platform = platform
	o.executable = executable
	return o, nil
}

func newOutput(opts Options, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Player.PollInterval <= 0 {
		opts.Player.PollInterval = 250 * time.Millisecond
	}
	return &Output{
		opts:    opts,
		logger:  logger,
		bus:     eventbus.New[player.MediaEvent](),
		props:   properties{volume: 100, paused: true, idle: true},
		written: make(map[string]written),
	}
}

// Start launches an idle mpv instance and connects to its IPC endpoint
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errClosed
	}
	if o.cmd != nil {
		o.mu.Unlock()
		return nil
	}

	endpoint := NewEndpoint(o.platform)
	cmd := exec.Command(o.executable, buildArgs(endpoint, o.opts)...)
	// keep mpv off the terminal the TUI is drawing on
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	detach(cmd)

	if err := cmd.Start(); err != nil {
		o.mu.Unlock()
		endpoint.Remove()
		return fmt.Errorf("failed to start %s: %w", o.executable, err)
	}
	o.endpoint = endpoint
	o.cmd = cmd
	o.mu.Unlock()

	go o.monitorProcess(cmd)

	if err := o.waitForIPC(ctx, endpoint); err != nil {
		_ = o.Close()
		return err
	}

	client, err := gopv.Connect(endpoint.Dial(), o.onIPCError)
	if err != nil {
		_ = o.Close()
		return fmt.Errorf("failed to connect to mpv IPC at %s: %w", endpoint.Dial(), err)
	}

	o.attach(func(args ...any) (any, error) {
		return client.Request(args...)
	})
	o.logger.Debug("mpv started", "ipc", endpoint.Address, "platform", o.platform)
	return nil
}

// attach binds the IPC transport and starts polling
func (o *Output) attach(request requestFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.request = request

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.wg.Add(1)
	go o.pollLoop(ctx)
}

func (o *Output) waitForIPC(ctx context.Context, endpoint *Endpoint) error {
	limit := 5 * time.Second
	if endpoint.Type != IPCUnixSocket {
		limit = 10 * time.Second
	}
	timeout := time.After(limit)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("timeout waiting for mpv IPC at %s after %v", endpoint.Address, limit)
		case <-ticker.C:
			if endpoint.Ready() {
				// the endpoint exists before mpv accepts commands on it
				time.Sleep(200 * time.Millisecond)
				return nil
			}
		}
	}
}

func (o *Output) monitorProcess(cmd *exec.Cmd) {
	err := cmd.Wait()

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}

	if err == nil {
		err = errors.New("mpv exited")
	} else {
		err = fmt.Errorf("mpv exited unexpectedly: %w", err)
	}
	o.logger.Warn("mpv process ended", "error", err)
	o.bus.Publish(player.MediaEvent{Kind: player.MediaError, Err: err})
}

func (o *Output) onIPCError(err error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed || err == nil {
		return
	}
	o.bus.Publish(player.MediaEvent{Kind: player.MediaError, Err: fmt.Errorf("mpv IPC: %w", err)})
}

// Close stops polling, quits mpv and removes the IPC endpoint
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	cancel, request, cmd, endpoint := o.cancel, o.request, o.cmd, o.endpoint
	o.request = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	if request != nil {
		done := make(chan struct{})
		go func() {
			_, _ = request("quit")
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if endpoint != nil {
		endpoint.Remove()
	}
	o.bus.Close()
	return nil
}

// CanPlayNative reports whether manifests are handed to mpv directly
func (o *Output) CanPlayNative() bool {
	return o.opts.Player.NativeHLS
}

// Load replaces the current file. It stays paused until Play is called.
func (o *Output) Load(ctx context.Context, url string) error {
	o.mu.Lock()
	o.loadGen++
	o.target = url
	o.loading = true
	o.opened = false
	o.props.timePos = 0
	o.props.duration = 0
	o.props.eof = false
	delete(o.written, "time-pos")
	o.mu.Unlock()

	if err := o.call(ctx, "set_property", "pause", true); err != nil {
		o.abortLoad()
		return err
	}
	if err := o.call(ctx, "loadfile", url, "replace"); err != nil {
		o.abortLoad()
		return err
	}
	o.logger.Debug("mpv loadfile", "url", url)
	return nil
}

func (o *Output) abortLoad() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loading = false
}

// AddSubtitle attaches an external subtitle track and selects it
func (o *Output) AddSubtitle(ctx context.Context, url, lang string) error {
	return o.call(ctx, "sub-add", url, "select", lang, lang)
}

func (o *Output) Play(ctx context.Context) error {
	return o.call(ctx, "set_property", "pause", false)
}

func (o *Output) Pause(ctx context.Context) error {
	return o.call(ctx, "set_property", "pause", true)
}

func (o *Output) Seek(ctx context.Context, seconds float64) error {
	return o.setProperty(ctx, "time-pos", seconds)
}

// SetVolume takes a volume in [0,1]; mpv works in percent
func (o *Output) SetVolume(ctx context.Context, volume float64) error {
	return o.setProperty(ctx, "volume", volume*100)
}

func (o *Output) SetMuted(ctx context.Context, muted bool) error {
	return o.setProperty(ctx, "mute", muted)
}

func (o *Output) SetFullscreen(ctx context.Context, fullscreen bool) error {
	return o.setProperty(ctx, "fullscreen", fullscreen)
}

// setProperty sets name and remembers the value until a poll reads it back.
// Events are still only derived from polls.
func (o *Output) setProperty(ctx context.Context, name string, value any) error {
	if err := o.call(ctx, "set_property", name, value); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writeSeq++
	o.written[name] = written{value: value, seq: o.writeSeq}
	return nil
}

func (o *Output) writtenFloat(name string, polled float64) float64 {
	if w, ok := o.written[name]; ok {
		if v, ok := w.value.(float64); ok {
			return v
		}
	}
	return polled
}

func (o *Output) writtenBool(name string, polled bool) bool {
	if w, ok := o.written[name]; ok {
		if v, ok := w.value.(bool); ok {
			return v
		}
	}
	return polled
}

func (o *Output) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writtenFloat("time-pos", o.props.timePos)
}

func (o *Output) Duration() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.props.duration
}

func (o *Output) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writtenBool("mute", o.props.muted)
}

func (o *Output) Fullscreen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writtenBool("fullscreen", o.props.fullscreen)
}

// Volume returns the last polled volume in [0,1]
func (o *Output) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writtenFloat("volume", o.props.volume) / 100
}

func (o *Output) Subscribe(fn func(player.MediaEvent)) func() {
	return o.bus.Subscribe(fn)
}

// call sends one command, giving up when ctx ends
func (o *Output) call(ctx context.Context, args ...any) error {
	o.mu.Lock()
	request, closed := o.request, o.closed
	o.mu.Unlock()
	if closed {
		return errClosed
	}
	if request == nil {
		return errNotStarted
	}

	done := make(chan error, 1)
	go func() {
		_, err := request(args...)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mpv %v failed: %w", args[0], err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Output) pollLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.opts.Player.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll()
		}
	}
}

// poll reads mpv properties and publishes the differences as media events
func (o *Output) poll() {
	o.mu.Lock()
	request, gen, seq := o.request, o.loadGen, o.writeSeq
	o.mu.Unlock()
	if request == nil {
		return
	}

	next, err := readProperties(request)

	o.mu.Lock()
	if o.closed || gen != o.loadGen {
		// a Load raced with this poll; its snapshot belongs to the old file
		o.mu.Unlock()
		return
	}
	var events []player.MediaEvent
	if err != nil {
		o.failures++
		if o.failures == maxPollFailures {
			events = append(events, player.MediaEvent{Kind: player.MediaError, Err: err})
		}
	} else {
		o.failures = 0
		// this snapshot was read after those writes completed
		for name, w := range o.written {
			if w.seq <= seq {
				delete(o.written, name)
			}
		}
		events = o.diffLocked(next)
	}
	o.mu.Unlock()

	for _, evt := range events {
		o.bus.Publish(evt)
	}
}

func (o *Output) diffLocked(next properties) []player.MediaEvent {
	prev := o.props
	o.props = next

	// the previous file stays visible until mpv has switched to the new one
	current := next.path == o.target
	if o.loading {
		if current && !next.idle {
			o.opened = true
		} else if o.opened {
			// mpv drops back to idle when it cannot open the file
			o.loading = false
			o.opened = false
			return []player.MediaEvent{{Kind: player.MediaError, Err: errLoadFailed}}
		}
	}

	var events []player.MediaEvent
	if next.duration != prev.duration {
		events = append(events, player.MediaEvent{Kind: player.MediaDurationChange, Duration: next.duration})
	}
	if o.loading && current && next.duration > 0 {
		o.loading = false
		events = append(events, player.MediaEvent{Kind: player.MediaLoadedMetadata, Duration: next.duration})
	}
	if next.timePos != prev.timePos {
		events = append(events, player.MediaEvent{Kind: player.MediaTimeUpdate, Time: next.timePos})
	}
	if !next.idle && next.paused != prev.paused {
		kind := player.MediaPlay
		if next.paused {
			kind = player.MediaPause
		}
		events = append(events, player.MediaEvent{Kind: kind})
	}
	if next.volume != prev.volume || next.muted != prev.muted {
		events = append(events, player.MediaEvent{
			Kind:   player.MediaVolumeChange,
			Volume: next.volume / 100,
			Muted:  next.muted,
		})
	}
	if next.fullscreen != prev.fullscreen {
		events = append(events, player.MediaEvent{Kind: player.MediaFullscreenChange, Fullscreen: next.fullscreen})
	}
	if next.eof && !prev.eof {
		events = append(events, player.MediaEvent{Kind: player.MediaEnded})
	}
	return events
}

// readProperties fetches one snapshot. time-pos, duration, eof-reached and
// path are unavailable while idle and read as zero values.
func readProperties(request requestFunc) (properties, error) {
	var p properties
	var err error

	p.timePos, _ = getFloat(request, "time-pos")
	p.duration, _ = getFloat(request, "duration")
	p.eof, _ = getBool(request, "eof-reached")
	p.path, _ = getString(request, "path")

	if p.volume, err = getFloat(request, "volume"); err != nil {
		return p, fmt.Errorf("mpv IPC failed reading volume: %w", err)
	}
	if p.paused, err = getBool(request, "pause"); err != nil {
		return p, fmt.Errorf("mpv IPC failed reading pause: %w", err)
	}
	if p.muted, err = getBool(request, "mute"); err != nil {
		return p, fmt.Errorf("mpv IPC failed reading mute: %w", err)
	}
	if p.fullscreen, err = getBool(request, "fullscreen"); err != nil {
		return p, fmt.Errorf("mpv IPC failed reading fullscreen: %w", err)
	}
	if p.idle, err = getBool(request, "idle-active"); err != nil {
		return p, fmt.Errorf("mpv IPC failed reading idle-active: %w", err)
	}
	return p, nil
}

func getFloat(request requestFunc, name string) (float64, error) {
	result, err := request("get_property", name)
	if err != nil {
		return 0, err
	}
	v, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected %s value %v", name, result)
	}
	return v, nil
}

func getBool(request requestFunc, name string) (bool, error) {
	result, err := request("get_property", name)
	if err != nil {
		return false, err
	}
	v, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s value %v", name, result)
	}
	return v, nil
}

func getString(request requestFunc, name string) (string, error) {
	result, err := request("get_property", name)
	if err != nil {
		return "", err
	}
	v, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s value %v", name, result)
	}
	return v, nil
}
