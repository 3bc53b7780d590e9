// Package teams implements the Microsoft Teams [platform.Adapter].
//
// Authentication uses the Azure AD client-credentials flow; media arrives
// over a WebSocket to the Teams real-time media relay. Unlike Meet, the
// relay delivers 16 kHz mono PCM directly in binary frames — text frames
// carry control messages.
package teams

import (
	"context"
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
	defaultRelay    = "wss://media.teams.microsoft.com/v1/sessions"
	defaultTokenURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	mediaScope      = "https://api.botframework.com/.default"

	pcmSampleRate = 16000
	pcmChannels   = 1
)

// Adapter implements [platform.Adapter] for Microsoft Teams.
type Adapter struct {
	relayURL   string
	tokenURL   string
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	sessions map[string]*session
}

// Option configures the adapter.
type Option func(*Adapter)

// WithRelayURL overrides the media relay endpoint.
func WithRelayURL(u string) Option {
	return func(a *Adapter) { a.relayURL = u }
}

// WithTokenURL overrides the Azure AD token endpoint template.
func WithTokenURL(u string) Option {
	return func(a *Adapter) { a.tokenURL = u }
}

// New creates a Teams adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		relayURL:   defaultRelay,
		tokenURL:   defaultTokenURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sessions:   make(map[string]*session),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements [platform.Adapter].
func (a *Adapter) Name() string { return platform.NameTeams }

// Authenticate implements [platform.Adapter] using the client-credentials
// grant. A 4xx from the token endpoint is permanent; network failures are
// left untyped so the retry classifier can treat them as transient.
func (a *Adapter) Authenticate(ctx context.Context, creds platform.Credentials) error {
	if creds.ClientID == "" || creds.Secret == "" || creds.TenantID == "" {
		return &platform.PermanentError{Reason: "teams: client id, secret and tenant id are all required"}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.Secret)
	form.Set("scope", mediaScope)

	endpoint := fmt.Sprintf(a.tokenURL, creds.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("teams: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("teams: token request: network_error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &platform.PermanentError{Reason: fmt.Sprintf("teams: auth denied (HTTP %d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("teams: token endpoint returned temporary_failure (HTTP %d)", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("teams: decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return &platform.PermanentError{Reason: "teams: token response missing access_token"}
	}

	a.mu.Lock()
	a.token = body.AccessToken
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
	token := a.token
	a.mu.Unlock()

	if token == "" {
		return &platform.PermanentError{Reason: "teams: not authenticated"}
	}
	if _, err := url.Parse(meetingURL); err != nil {
		return &platform.PermanentError{Reason: fmt.Sprintf("teams: invalid meeting URL %q", meetingURL), Err: err}
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("X-Teams-Join-URL", meetingURL)

	conn, _, err := websocket.Dial(ctx, a.relayURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("teams: dial relay: %w", err)
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

// StartTranscription implements [platform.Adapter].
func (a *Adapter) StartTranscription(ctx context.Context, sessionID string) (string, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf(`{"action":"subscribe_audio","session":%q}`, sessionID)
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		s.setState(platform.StateError)
		return "", fmt.Errorf("teams: subscribe audio: %w", err)
	}
	s.setState(platform.StateTranscribing)
	s.wg.Add(1)
	go s.readLoop(sessionID)
	return "teams-media-" + sessionID, nil
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
		return nil, fmt.Errorf("teams: unknown session %q", sessionID)
	}
	return s, nil
}

// session is one live relay socket.
type session struct {
	conn   *websocket.Conn
	chunks chan platform.AudioChunk

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu    sync.Mutex
	state platform.ConnectionState
}

// readLoop republishes binary PCM frames as audio chunks. Text frames are
// control messages; only a "call_ended" event changes state.
func (s *session) readLoop(sessionID string) {
	defer s.wg.Done()
	defer close(s.chunks)

	ctx := context.Background()
	seq := 0
	for {
		select {
		case <-s.done:
			return
		default:
		}

		typ, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.setState(platform.StateDisconnected)
			return
		}

		if typ == websocket.MessageText {
			var ctrl struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(msg, &ctrl) == nil && ctrl.Event == "call_ended" {
				s.setState(platform.StateDisconnected)
			}
			continue
		}

		seq++
		samples := len(msg) / 2 / pcmChannels
		chunk := platform.AudioChunk{
			ChunkID:    fmt.Sprintf("%s-%d", sessionID, seq),
			Data:       msg,
			Timestamp:  time.Now().UTC(),
			Duration:   time.Duration(samples) * time.Second / pcmSampleRate,
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
