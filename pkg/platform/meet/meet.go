// Package meet implements the Google Meet [platform.Adapter].
//
// The adapter speaks to a Meet media-gateway endpoint over WebSocket: one
// socket per bot session. The gateway forwards Opus-encoded audio frames in
// JSON envelopes; the adapter decodes them to PCM and republishes them as
// [platform.AudioChunk] values on the session's chunk channel.
package meet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/meetwren/wren/pkg/platform"
)

// defaultGateway is the Meet media-gateway endpoint. Overridable for tests
// and self-hosted relays via [WithGatewayURL].
const defaultGateway = "wss://meet-media.googleapis.com/v1/stream"

// Adapter implements [platform.Adapter] for Google Meet.
// All methods are safe for concurrent use.
type Adapter struct {
	gatewayURL string

	mu       sync.Mutex
	token    string
	sessions map[string]*session
}

// Option configures the adapter.
type Option func(*Adapter)

// WithGatewayURL overrides the default media-gateway endpoint.
func WithGatewayURL(u string) Option {
	return func(a *Adapter) { a.gatewayURL = u }
}

// New creates a Meet adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		gatewayURL: defaultGateway,
		sessions:   make(map[string]*session),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements [platform.Adapter].
func (a *Adapter) Name() string { return platform.NameMeet }

// Authenticate implements [platform.Adapter]. Meet uses a bearer token minted
// by the deployment's service account; the adapter only records it here and
// presents it when dialing the gateway.
func (a *Adapter) Authenticate(_ context.Context, creds platform.Credentials) error {
	if creds.Secret == "" {
		return &platform.PermanentError{Reason: "meet: missing bearer token"}
	}
	a.mu.Lock()
	a.token = creds.Secret
	a.mu.Unlock()
	return nil
}

// Join implements [platform.Adapter]. It dials the media gateway for the
// meeting; joining an already-joined session is a no-op.
func (a *Adapter) Join(ctx context.Context, meetingURL, sessionID string) error {
	a.mu.Lock()
	if _, ok := a.sessions[sessionID]; ok {
		a.mu.Unlock()
		return nil
	}
	token := a.token
	a.mu.Unlock()

	if token == "" {
		return &platform.PermanentError{Reason: "meet: not authenticated"}
	}

	wsURL, err := a.buildURL(meetingURL)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("meet: dial gateway: %w", err)
	}

	dec, err := newOpusDecoder()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "decoder init failed")
		return fmt.Errorf("meet: %w", err)
	}

	s := &session{
		conn:   conn,
		dec:    dec,
		chunks: make(chan platform.AudioChunk, 256),
		done:   make(chan struct{}),
		state:  platform.StateConnected,
	}

	a.mu.Lock()
	a.sessions[sessionID] = s
	a.mu.Unlock()
	return nil
}

// buildURL constructs the gateway URL carrying the meeting space code.
func (a *Adapter) buildURL(meetingURL string) (string, error) {
	mu, err := url.Parse(meetingURL)
	if err != nil || mu.Path == "" || mu.Path == "/" {
		return "", &platform.PermanentError{Reason: fmt.Sprintf("meet: invalid meeting URL %q", meetingURL), Err: err}
	}
	gw, err := url.Parse(a.gatewayURL)
	if err != nil {
		return "", fmt.Errorf("meet: parse gateway URL: %w", err)
	}
	q := gw.Query()
	q.Set("space", mu.Path[1:])
	gw.RawQuery = q.Encode()
	return gw.String(), nil
}

// StartTranscription implements [platform.Adapter]. It asks the gateway to
// begin forwarding media and starts the read loop.
func (a *Adapter) StartTranscription(ctx context.Context, sessionID string) (string, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return "", err
	}
	streamID, err := s.start(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("meet: start media stream: %w", err)
	}
	return streamID, nil
}

// Chunks implements [platform.Adapter].
func (a *Adapter) Chunks(sessionID string) (<-chan platform.AudioChunk, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.chunks, nil
}

// Leave implements [platform.Adapter].
func (a *Adapter) Leave(_ context.Context, sessionID string) error {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	s.close()
	return nil
}

// ConnectionStatus implements [platform.Adapter].
func (a *Adapter) ConnectionStatus(sessionID string) platform.ConnectionState {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return platform.StateDisconnected
	}
	return s.connectionState()
}

func (a *Adapter) session(sessionID string) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("meet: unknown session %q", sessionID)
	}
	return s, nil
}

// ─── session ────────────────────────────────────────────────────────────────

// mediaEnvelope is the JSON frame format the gateway emits.
type mediaEnvelope struct {
	Type     string `json:"type"` // "audio", "status"
	Seq      int64  `json:"seq"`
	OpusB64  string `json:"opus"`
	Duration int    `json:"duration_ms"`
	Status   string `json:"status"`
}

// session is one live gateway socket.
type session struct {
	conn   *websocket.Conn
	dec    *opusDecoder
	chunks chan platform.AudioChunk

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu    sync.Mutex
	state platform.ConnectionState
}

func (s *session) start(ctx context.Context, sessionID string) (string, error) {
	cmd := fmt.Sprintf(`{"type":"start_media","session":%q}`, sessionID)
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		s.setState(platform.StateError)
		return "", err
	}
	s.setState(platform.StateTranscribing)
	s.wg.Add(1)
	go s.readLoop(sessionID)
	return "meet-media-" + sessionID, nil
}

// readLoop receives gateway envelopes, decodes audio, and publishes chunks.
// It runs until the socket closes or the session is torn down.
func (s *session) readLoop(sessionID string) {
	defer s.wg.Done()
	defer close(s.chunks)

	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.setState(platform.StateDisconnected)
			return
		}

		var env mediaEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}

		switch env.Type {
		case "status":
			if env.Status == "disconnected" {
				s.setState(platform.StateDisconnected)
			}
		case "audio":
			opus, err := base64.StdEncoding.DecodeString(env.OpusB64)
			if err != nil {
				continue
			}
			pcm, err := s.dec.decode(opus)
			if err != nil {
				continue
			}
			chunk := platform.AudioChunk{
				ChunkID:    fmt.Sprintf("%s-%d", sessionID, env.Seq),
				Data:       pcm,
				Timestamp:  time.Now().UTC(),
				Duration:   time.Duration(env.Duration) * time.Millisecond,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
			}
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "bot left")
		s.wg.Wait()
		s.setState(platform.StateDisconnected)
	})
}

func (s *session) connectionState() platform.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st platform.ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
