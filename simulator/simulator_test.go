package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"qalam/internal/config"
	"qalam/internal/counters"
	"qalam/internal/database"
	"qalam/internal/handlers"
	"qalam/internal/utils"
)

func testServer(t *testing.T, stores database.Stores) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Server:   config.DefaultConfig(),
		Database: &config.DatabaseConfig{Type: "memory"},
		Auth: &config.AuthConfig{
			JWTSecret:        "sim-secret",
			TokenExpiry:      time.Hour,
			CookieExpiryDays: 1,
			Issuer:           "qalam",
		},
		Query:       config.DefaultQueryConfig(),
		Environment: config.EnvDevelopment,
	}
	server := handlers.NewServer(cfg, stores, handlers.Collaborators{Logger: utils.DiscardLogger()})
	return httptest.NewServer(server.Routes())
}

func adminToken(t *testing.T, baseURL string, stores database.Stores) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"username": "sim_admin", "email": "sim_admin@qalam.test",
		"password": simPassword, "passwordConfirm": simPassword,
	})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+handlers.APIPrefix+"/users/signup", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	_, err = stores.Users.UpdateOne(context.Background(), bson.M{"username": "sim_admin"}, bson.M{"$set": bson.M{"role": "admin"}})
	require.NoError(t, err)
	return env.Token
}

func TestSimulationKeepsCountersConsistent(t *testing.T) {
	if testing.Short() {
		t.Skip("simulation runs for several seconds")
	}
	stores := database.NewMemoryStores()
	ts := testServer(t, stores)

	sim := NewEnhancedSimulator(SimConfig{
		NumUsers:         6,
		NumCategories:    3,
		TickInterval:     20 * time.Millisecond,
		PostFrequency:    180000,
		CommentFrequency: 180000,
		LikeFrequency:    180000,
		FollowFrequency:  180000,
		ZipfS:            1.2,
		Workers:          4,
		BaseURL:          ts.URL,
		AdminToken:       adminToken(t, ts.URL, stores),
	}, utils.DiscardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sim.Run(ctx))
	ts.Close()

	metrics := sim.GetMetrics()
	assert.Equal(t, 6, metrics.TotalUsers)
	assert.Positive(t, metrics.TotalPosts)
	assert.Positive(t, metrics.SuccessRequests)

	report, err := counters.NewReconciler(stores, nil, utils.DiscardLogger()).Run(context.Background(), counters.ScopeAll)
	require.NoError(t, err)
	assert.Empty(t, report.Corrected)
}

func TestPopularFavorsTheFront(t *testing.T) {
	sim := NewEnhancedSimulator(SimConfig{ZipfS: 1.5}, utils.DiscardLogger())
	assert.Zero(t, sim.popular(1))

	hits := make([]int, 10)
	for i := 0; i < 2000; i++ {
		idx := sim.popular(len(hits))
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, len(hits))
		hits[idx]++
	}
	assert.Greater(t, hits[0], hits[9])
}

func TestUserMarks(t *testing.T) {
	u := &SimulatedUser{ID: "me", LikedPosts: map[string]bool{}, Following: map[string]bool{}}
	assert.True(t, u.markLiked("p1"))
	assert.False(t, u.markLiked("p1"))
	assert.False(t, u.markFollowing("me"))
	assert.True(t, u.markFollowing("other"))
	assert.False(t, u.markFollowing("other"))
}
