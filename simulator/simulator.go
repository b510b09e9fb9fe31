package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qalam/internal/models"
)

const simPassword = "testpass123"

type SimConfig struct {
	NumUsers         int
	NumCategories    int
	SimulationTime   time.Duration
	TickInterval     time.Duration
	PostFrequency    float64 // per user per hour
	CommentFrequency float64
	LikeFrequency    float64
	FollowFrequency  float64
	ZipfS            float64
	Workers          int
	BaseURL          string
	// AdminToken seeds the categories; without it the server must already have some.
	AdminToken string
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		NumUsers:         20,
		NumCategories:    5,
		SimulationTime:   2 * time.Minute,
		TickInterval:     500 * time.Millisecond,
		PostFrequency:    60,
		CommentFrequency: 120,
		LikeFrequency:    240,
		FollowFrequency:  30,
		ZipfS:            1.07,
		Workers:          5,
		BaseURL:          "http://localhost:8080",
	}
}

type SimulationStats struct {
	mu               sync.RWMutex
	StartTime        time.Time
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	TotalUsers       int
	TotalPosts       int
	TotalComments    int
	TotalLikes       int
	TotalFollows     int
	RequestLatencies []time.Duration
}

func (st *SimulationStats) record(latency time.Duration, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.TotalRequests++
	if ok {
		st.SuccessRequests++
	} else {
		st.FailedRequests++
	}
	st.RequestLatencies = append(st.RequestLatencies, latency)
}

func (st *SimulationStats) bump(field *int) {
	st.mu.Lock()
	*field++
	st.mu.Unlock()
}

// Metrics is a point-in-time copy of the stats.
type Metrics struct {
	Elapsed         time.Duration
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalUsers      int
	TotalPosts      int
	TotalComments   int
	TotalLikes      int
	TotalFollows    int
	AverageLatency  time.Duration
	P95Latency      time.Duration
}

// SimulatedUser is one signed-up account and what it has done so far.
type SimulatedUser struct {
	ID       string
	Username string
	Email    string
	Token    string

	mu         sync.Mutex
	Spaces     []string
	LikedPosts map[string]bool
	Following  map[string]bool
}

// markLiked reports false if the user already liked the post.
func (u *SimulatedUser) markLiked(postID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.LikedPosts[postID] {
		return false
	}
	u.LikedPosts[postID] = true
	return true
}

func (u *SimulatedUser) markFollowing(userID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if userID == u.ID || u.Following[userID] {
		return false
	}
	u.Following[userID] = true
	return true
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func isStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type envelope struct {
	Status  string `json:"status"`
	Token   string `json:"token"`
	Message string `json:"message"`
	Data    struct {
		Data json.RawMessage `json:"data"`
	} `json:"data"`
}

type EnhancedSimulator struct {
	config     SimConfig
	stats      *SimulationStats
	client     *http.Client
	logger     *slog.Logger
	mu         sync.RWMutex
	users      []*SimulatedUser
	categories []string
	posts      []string
	comments   []string
}

func NewEnhancedSimulator(config SimConfig, logger *slog.Logger) *EnhancedSimulator {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 500 * time.Millisecond
	}
	if config.ZipfS <= 1 {
		config.ZipfS = 1.07
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancedSimulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Run sets up users and categories, then generates traffic until ctx ends.
func (s *EnhancedSimulator) Run(ctx context.Context) error {
	s.logger.Info("starting simulation", "base_url", s.config.BaseURL, "users", s.config.NumUsers)
	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	return s.SimulateActivities(ctx)
}

func (s *EnhancedSimulator) initialize(ctx context.Context) error {
	s.logger.Info("phase 1: creating users", "count", s.config.NumUsers)
	if err := s.createInitialUsers(ctx); err != nil {
		return fmt.Errorf("failed to create users: %w", err)
	}
	if len(s.users) == 0 {
		return errors.New("no users could be created")
	}

	s.logger.Info("phase 2: preparing categories", "count", s.config.NumCategories)
	if err := s.seedCategories(ctx); err != nil {
		return fmt.Errorf("failed to prepare categories: %w", err)
	}

	s.logger.Info("phase 3: joining spaces")
	s.simulateSpaceJoins(ctx)
	return nil
}

func (s *EnhancedSimulator) createInitialUsers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	var mu sync.Mutex
	for i := 0; i < s.config.NumUsers; i++ {
		user := &SimulatedUser{
			Username:   fmt.Sprintf("user_%d", i),
			Email:      fmt.Sprintf("user_%d@qalam.test", i),
			LikedPosts: make(map[string]bool),
			Following:  make(map[string]bool),
		}
		g.Go(func() error {
			var err error
			for retries := 0; retries < 3; retries++ {
				if err = s.registerUser(ctx, user); err == nil {
					mu.Lock()
					s.users = append(s.users, user)
					mu.Unlock()
					s.stats.bump(&s.stats.TotalUsers)
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				backoff := time.Duration(math.Pow(2, float64(retries))) * 100 * time.Millisecond
				s.logger.Debug("retrying signup", "username", user.Username, "attempt", retries+1, "error", err)
				time.Sleep(backoff)
			}
			s.logger.Warn("failed to register user", "username", user.Username, "error", err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	sort.Slice(s.users, func(i, j int) bool { return s.users[i].Username < s.users[j].Username })
	s.logger.Info("users ready", "count", len(s.users))
	return nil
}

// registerUser signs up, or logs in when the account survives from an earlier run.
func (s *EnhancedSimulator) registerUser(ctx context.Context, user *SimulatedUser) error {
	env, err := s.doJSON(ctx, http.MethodPost, "/users/signup", "", map[string]string{
		"username":        user.Username,
		"email":           user.Email,
		"password":        simPassword,
		"passwordConfirm": simPassword,
	})
	if isStatus(err, http.StatusConflict) {
		env, err = s.doJSON(ctx, http.MethodPost, "/users/login", "", map[string]string{
			"email":    user.Email,
			"password": simPassword,
		})
	}
	if err != nil {
		return err
	}
	var account created
	if err := json.Unmarshal(env.Data.Data, &account); err != nil {
		return fmt.Errorf("failed to parse user: %w", err)
	}
	user.ID = account.ID
	user.Token = env.Token
	return nil
}

func (s *EnhancedSimulator) seedCategories(ctx context.Context) error {
	if s.config.AdminToken != "" {
		n := min(s.config.NumCategories, len(models.CalligraphyScripts))
		for _, name := range models.CalligraphyScripts[:n] {
			_, err := s.doJSON(ctx, http.MethodPost, "/categories", s.config.AdminToken, map[string]string{"name": name})
			if err != nil && !isStatus(err, http.StatusConflict) {
				return fmt.Errorf("creating %s: %w", name, err)
			}
		}
	}

	env, err := s.doJSON(ctx, http.MethodGet, "/categories", s.users[0].Token, nil)
	if err != nil {
		return err
	}
	var categories []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(env.Data.Data, &categories); err != nil {
		return fmt.Errorf("failed to parse categories: %w", err)
	}
	for _, c := range categories {
		s.categories = append(s.categories, c.Name)
	}
	if len(s.categories) == 0 {
		return errors.New("the server has no categories; set an admin token to seed them")
	}
	return nil
}

// simulateSpaceJoins gives every user a Zipf-distributed number of spaces.
func (s *EnhancedSimulator) simulateSpaceJoins(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var zipf *rand.Zipf
	if len(s.categories) > 1 {
		zipf = rand.NewZipf(rng, s.config.ZipfS, 1, uint64(len(s.categories)-1))
	}
	for _, user := range s.users {
		want := 1
		if zipf != nil {
			want += int(zipf.Uint64())
		}
		picked := rng.Perm(len(s.categories))[:want]
		for _, i := range picked {
			name := s.categories[i]
			_, err := s.doJSON(ctx, http.MethodPost, "/users/joinSpace", user.Token, map[string]string{"categoryName": name})
			if err != nil && !isStatus(err, http.StatusBadRequest) {
				s.logger.Warn("failed to join space", "username", user.Username, "space", name, "error", err)
				continue
			}
			user.mu.Lock()
			user.Spaces = append(user.Spaces, name)
			user.mu.Unlock()
		}
	}
}

func (s *EnhancedSimulator) doJSON(ctx context.Context, method, path, token string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+"/api/v1"+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(req, token)
}

func (s *EnhancedSimulator) doMultipart(ctx context.Context, path, token string, fields map[string]string, fileField, filename string) (*envelope, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filename))
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(samplePNG); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/api/v1"+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.send(req, token)
}

func (s *EnhancedSimulator) send(req *http.Request, token string) (*envelope, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.stats.record(time.Since(start), false)
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	s.stats.record(time.Since(start), err == nil && resp.StatusCode < 400)
	if err != nil {
		return nil, err
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("unexpected response body %q: %w", raw, err)
		}
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	return &env, nil
}

// GetMetrics summarizes the stats collected so far.
func (s *EnhancedSimulator) GetMetrics() Metrics {
	st := s.stats
	st.mu.RLock()
	defer st.mu.RUnlock()

	m := Metrics{
		Elapsed:         time.Since(st.StartTime),
		TotalRequests:   st.TotalRequests,
		SuccessRequests: st.SuccessRequests,
		FailedRequests:  st.FailedRequests,
		TotalUsers:      st.TotalUsers,
		TotalPosts:      st.TotalPosts,
		TotalComments:   st.TotalComments,
		TotalLikes:      st.TotalLikes,
		TotalFollows:    st.TotalFollows,
	}
	if n := len(st.RequestLatencies); n > 0 {
		sorted := append([]time.Duration(nil), st.RequestLatencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		var total time.Duration
		for _, l := range sorted {
			total += l
		}
		m.AverageLatency = total / time.Duration(n)
		m.P95Latency = sorted[(n*95)/100]
	}
	return m
}

// samplePNG is a 1x1 transparent PNG.
var samplePNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
