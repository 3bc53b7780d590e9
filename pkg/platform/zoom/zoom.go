// Package zoom implements the Zoom [platform.Adapter] on top of Zoom's
// real-time media stream (RTMS) WebSocket feed.
//
// RTMS delivers JSON envelopes with base64-encoded 16 kHz mono PCM. The
// adapter signs the handshake with the configured SDK key/secret pair and
// republishes decoded frames as [platform.AudioChunk] values.
package zoom

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/meetwren/wren/pkg/platform"
)

const (
	defaultEndpoint = "wss://rtms.zoom.us/v2/stream"

	pcmSampleRate = 16000
	pcmChannels   = 1
)

// Adapter implements [platform.Adapter] for Zoom.
type Adapter struct {
	endpoint string

	mu       sync.Mutex
	sdkKey   string
	secret   string
	sessions map[string]*session
}

// Option configures the adapter.
type Option func(*Adapter)

// WithEndpoint overrides the RTMS endpoint.
func WithEndpoint(u string) Option {
	return func(a *Adapter) { a.endpoint = u }
}

// New creates a Zoom adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		endpoint: defaultEndpoint,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements [platform.Adapter].
func (a *Adapter) Name() string { return platform.NameZoom }

// Authenticate implements [platform.Adapter]. Zoom signs each connection
// with an HMAC of the SDK key; there is no upfront token exchange.
func (a *Adapter) Authenticate(_ context.Context, creds platform.Credentials) error {
	if creds.ClientID == "" || creds.Secret == "" {
		return &platform.PermanentError{Reason: "zoom: SDK key and secret are required"}
	}
	a.mu.Lock()
	a.sdkKey = creds.ClientID
	a.secret = creds.Secret
	a.mu.Unlock()
	return nil
}

// Join implements [platform.Adapter].
func (a *Adapter) Join(ctx context.Context, meetingURL, sessionID string) error {
	a.mu.Lock()
	if _, ok := a.sessions[sessionID]; ok {
		a.mu.Unlock()
		return nil
	}
	key, secret := a.sdkKey, a.secret
	a.mu.Unlock()

	if key == "" {
		return &platform.PermanentError{Reason: "zoom: not authenticated"}
	}

	meetingID, err := meetingIDFromURL(meetingURL)
	if err != nil {
		return err
	}

	sig := signHandshake(key, secret, meetingID)
	headers := http.Header{}
	headers.Set("X-Zoom-Sdk-Key", key)
	headers.Set("X-Zoom-Signature", sig)

	u := fmt.Sprintf("%s?meeting=%s", a.endpoint, url.QueryEscape(meetingID))
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("zoom: dial RTMS: %w", err)
	}

	s := &session{
		conn:   conn,
		chunks: make(chan platform.AudioChunk, 256),
		done:   make(chan struct{}),
		state:  platform.StateConnected,
	}
	a.mu.Lock()
	a.sessions[sessionID] = s
	a.mu.Unlock()
	return nil
}

// meetingIDFromURL extracts the numeric meeting id from a /j/<id> join URL.
func meetingIDFromURL(meetingURL string) (string, error) {
	u, err := url.Parse(meetingURL)
	if err != nil {
		return "", &platform.PermanentError{Reason: fmt.Sprintf("zoom: invalid meeting URL %q", meetingURL), Err: err}
	}
	if idx := strings.LastIndex(u.Path, "/"); idx >= 0 && idx+1 < len(u.Path) {
		return u.Path[idx+1:], nil
	}
	return "", &platform.PermanentError{Reason: fmt.Sprintf("zoom: meeting URL %q carries no meeting id", meetingURL)}
}

// signHandshake computes the RTMS handshake signature.
func signHandshake(key, secret, meetingID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key + ":" + meetingID))
	return hex.EncodeToString(mac.Sum(nil))
}

// StartTranscription implements [platform.Adapter].
func (a *Adapter) StartTranscription(ctx context.Context, sessionID string) (string, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf(`{"op":"start","media":"audio","session":%q}`, sessionID)
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		s.setState(platform.StateError)
		return "", fmt.Errorf("zoom: start media: %w", err)
	}
	s.setState(platform.StateTranscribing)
	s.wg.Add(1)
	go s.readLoop(sessionID)
	return "zoom-rtms-" + sessionID, nil
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
	if ok {
		s.close()
	}
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
		return nil, fmt.Errorf("zoom: unknown session %q", sessionID)
	}
	return s, nil
}

// rtmsEnvelope is the RTMS JSON frame format.
type rtmsEnvelope struct {
	Op       string `json:"op"` // "audio", "event"
	Seq      int64  `json:"seq"`
	PCMB64   string `json:"pcm"`
	Duration int    `json:"duration_ms"`
	Event    string `json:"event"`
}

// session is one live RTMS socket.
type session struct {
	conn   *websocket.Conn
	chunks chan platform.AudioChunk

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu    sync.Mutex
	state platform.ConnectionState
}

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

		var env rtmsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}

		switch env.Op {
		case "event":
			if env.Event == "meeting_ended" {
				s.setState(platform.StateDisconnected)
			}
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(env.PCMB64)
			if err != nil {
				continue
			}
			chunk := platform.AudioChunk{
				ChunkID:    fmt.Sprintf("%s-%d", sessionID, env.Seq),
				Data:       pcm,
				Timestamp:  time.Now().UTC(),
				Duration:   time.Duration(env.Duration) * time.Millisecond,
				SampleRate: pcmSampleRate,
				Channels:   pcmChannels,
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
