package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks the Twitch token endpoint and Helix API.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.hits[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// Hits returns how many requests reached path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		})
	})
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": streams})
	})
}

// MockStreamsByLogin answers /helix/streams from a login -> stream table; logins
// without an entry are reported offline.
func (m *MockTwitchServer) MockStreamsByLogin(live map[string]map[string]interface{}) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]interface{}{}
		if s, ok := live[r.URL.Query().Get("user_login")]; ok {
			data = append(data, s)
		}
		writeJSON(w, map[string]interface{}{"data": data})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}
