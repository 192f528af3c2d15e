// Package simulator drives synthetic direct-message traffic against a running
// chat server: users connect over websocket, open chats with peers picked by
// a Zipf distribution and exchange messages while dropping and restoring
// their connections.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"devsquad-chat/internal/middleware"
	"devsquad-chat/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type SimConfig struct {
	NumUsers         int
	SimulationTime   time.Duration
	MessageFrequency float64 // messages per user per minute
	ChatsPerUser     int
	HideRate         float64 // chance per tick that a user hides one of their chats
	DisconnectRate   float64
	ReconnectRate    float64
	ZipfS            float64
	ServerURL        string
	JWTSecret        string
}

// DefaultSimConfig is a small run suitable for a local server.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		NumUsers:         10,
		SimulationTime:   time.Minute,
		MessageFrequency: 30,
		ChatsPerUser:     3,
		HideRate:         0.01,
		DisconnectRate:   0.01,
		ReconnectRate:    0.05,
		ZipfS:            1.07,
		ServerURL:        "http://localhost:8080",
	}
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	ChatsOpened      int
	ChatsHidden      int
	MessagesSent     int
	MessagesAcked    int
	MessagesReceived int
	RejectedSends    int
	requestLatencies []time.Duration
}

// Snapshot is a copy of the counters safe to read without locking.
type Snapshot struct {
	Elapsed          time.Duration
	TotalRequests    int64
	FailedRequests   int64
	AverageLatency   time.Duration
	ActiveUsers      int
	ChatsOpened      int
	ChatsHidden      int
	MessagesSent     int
	MessagesAcked    int
	MessagesReceived int
	RejectedSends    int
}

type SimulatedUser struct {
	ID    uuid.UUID
	Token string

	mu    sync.Mutex
	conn  *connection
	chats []uuid.UUID
}

func (u *SimulatedUser) connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn != nil
}

type Simulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	logger *slog.Logger
	rng    *rand.Rand
	rngMu  sync.Mutex
}

func NewSimulator(config SimConfig, logger *slog.Logger) *Simulator {
	return &Simulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks until ctx is done or the configured simulation time elapses.
func (s *Simulator) Run(ctx context.Context) error {
	if s.config.NumUsers < 2 {
		return errors.New("simulator: need at least two users")
	}
	if s.config.ZipfS <= 1 {
		return errors.New("simulator: ZipfS must be greater than 1")
	}
	if s.config.JWTSecret == "" {
		return errors.New("simulator: JWT secret is required to mint user tokens")
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.SimulationTime)
	defer cancel()

	s.logger.Info("Starting simulation", "users", s.config.NumUsers, "duration", s.config.SimulationTime)
	if err := s.initialize(ctx); err != nil {
		return errors.Wrap(err, "initialization failed")
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.simulateMessaging(ctx)
	}()
	go func() {
		defer wg.Done()
		s.simulateConnectivity(ctx)
	}()
	go func() {
		defer wg.Done()
		s.collectMetrics(ctx)
	}()
	wg.Wait()

	for _, user := range s.users {
		s.disconnect(user)
	}
	return nil
}

// initialize mints identities, connects every user and opens the initial
// chats.
func (s *Simulator) initialize(ctx context.Context) error {
	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)
	for i := 0; i < s.config.NumUsers; i++ {
		id := uuid.New()
		token, err := middleware.GenerateToken(s.config.JWTSecret, models.Identity{
			ID:    id,
			Email: fmt.Sprintf("sim_%d@devsquad.test", i),
		}, s.config.SimulationTime+time.Hour)
		if err != nil {
			return err
		}
		s.users = append(s.users, &SimulatedUser{ID: id, Token: token})
	}

	for _, user := range s.users {
		if err := s.connect(ctx, user); err != nil {
			return errors.Wrapf(err, "connect user %s", user.ID)
		}
	}

	zipf := s.newZipf()
	for i, user := range s.users {
		for j := 0; j < s.config.ChatsPerUser; j++ {
			peer := s.users[s.pickPeer(zipf, i)]
			if _, err := s.openChat(ctx, user, peer); err != nil {
				s.logger.Warn("Open chat failed", "user", user.ID, "error", err)
			}
		}
	}
	s.logger.Info("Initialization completed", "chats_opened", s.GetMetrics().ChatsOpened)
	return nil
}

func (s *Simulator) newZipf() *rand.Zipf {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return rand.NewZipf(rand.New(rand.NewSource(s.rng.Int63())), s.config.ZipfS, 1, uint64(len(s.users)-2))
}

// pickPeer returns an index other than self. Low indexes are popular.
func (s *Simulator) pickPeer(zipf *rand.Zipf, self int) int {
	s.rngMu.Lock()
	idx := int(zipf.Uint64())
	s.rngMu.Unlock()
	if idx >= self {
		idx++
	}
	return idx
}

func (s *Simulator) chance(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

func (s *Simulator) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *Simulator) openChat(ctx context.Context, user, peer *SimulatedUser) (uuid.UUID, error) {
	var resp struct {
		ChatID uuid.UUID `json:"chat_id"`
	}
	if err := s.makeRequest(ctx, user, http.MethodPost, "/chat/open", map[string]string{
		"other_user_id": peer.ID.String(),
	}, &resp); err != nil {
		return uuid.Nil, err
	}

	s.remember(user, resp.ChatID)
	s.remember(peer, resp.ChatID)
	s.stats.mu.Lock()
	s.stats.ChatsOpened++
	s.stats.mu.Unlock()
	return resp.ChatID, nil
}

func (s *Simulator) remember(user *SimulatedUser, chatID uuid.UUID) {
	user.mu.Lock()
	defer user.mu.Unlock()
	for _, id := range user.chats {
		if id == chatID {
			return
		}
	}
	user.chats = append(user.chats, chatID)
}

func (s *Simulator) forget(user *SimulatedUser, chatID uuid.UUID) {
	user.mu.Lock()
	defer user.mu.Unlock()
	for i, id := range user.chats {
		if id == chatID {
			user.chats = append(user.chats[:i], user.chats[i+1:]...)
			return
		}
	}
}

func (s *Simulator) makeRequest(ctx context.Context, user *SimulatedUser, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.config.ServerURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+user.Token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	s.recordRequest(time.Since(start), err == nil && resp.StatusCode < 300)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return errors.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) recordRequest(latency time.Duration, ok bool) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.TotalRequests++
	if ok {
		s.stats.SuccessRequests++
	} else {
		s.stats.FailedRequests++
	}
	s.stats.requestLatencies = append(s.stats.requestLatencies, latency)
}

func (s *Simulator) websocketURL(token string) (string, error) {
	u, err := url.Parse(s.config.ServerURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.logger.Info("Simulation progress",
				"active_users", m.ActiveUsers,
				"requests", m.TotalRequests,
				"failed", m.FailedRequests,
				"avg_latency", m.AverageLatency,
				"sent", m.MessagesSent,
				"acked", m.MessagesAcked,
				"received", m.MessagesReceived)
		}
	}
}

// GetMetrics returns a copy of the current counters.
func (s *Simulator) GetMetrics() Snapshot {
	s.stats.mu.RLock()
	snap := Snapshot{
		Elapsed:          time.Since(s.stats.StartTime),
		TotalRequests:    s.stats.TotalRequests,
		FailedRequests:   s.stats.FailedRequests,
		ChatsOpened:      s.stats.ChatsOpened,
		ChatsHidden:      s.stats.ChatsHidden,
		MessagesSent:     s.stats.MessagesSent,
		MessagesAcked:    s.stats.MessagesAcked,
		MessagesReceived: s.stats.MessagesReceived,
		RejectedSends:    s.stats.RejectedSends,
	}
	if n := len(s.stats.requestLatencies); n > 0 {
		var total time.Duration
		for _, l := range s.stats.requestLatencies {
			total += l
		}
		snap.AverageLatency = total / time.Duration(n)
	}
	s.stats.mu.RUnlock()

	for _, user := range s.users {
		if user.connected() {
			snap.ActiveUsers++
		}
	}
	return snap
}
