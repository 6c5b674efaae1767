package cloud

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	testUsername = "user@example.com"
	testPassword = "secret"
)

// fakeCloud emulates the REST API and the live query socket.
type fakeCloud struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	logins       int
	fetches      map[string]int
	commands     []string
	rejectToken  string
	subsPerConn  [][]map[string]any
	wsConns      int
	connectMsgs  []map[string]any
	homeResponse map[string]any

	// script runs after a connection has sent its three subscriptions.
	// Returning closes the connection; nil keeps it open.
	script func(n int, conn *websocket.Conn)
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{
		t:       t,
		fetches: make(map[string]int),
		homeResponse: map[string]any{
			"objectId": "home1",
			"deviceList": []any{
				map[string]any{"id": 1, "mac": "aa:bb", "name": "Lamp", "type": 22, "stype": 13},
			},
			"onlineList": map[string]any{"1": map[string]any{"br": 50, "online": true}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", f.handleLogin)
	mux.HandleFunc("POST /classes/{name}", f.handleClass)
	mux.HandleFunc("PUT /classes/LiveGroup/{id}", f.handleCommand)
	mux.HandleFunc("GET /ws", f.handleWS)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCloud) config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = f.srv.URL + "/"
	cfg.LiveURL = "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	cfg.CommandRate = 0
	return cfg
}

func (f *fakeCloud) newClient() *Client {
	return NewClient(f.config(), Credentials{Username: testUsername, Password: testPassword}, nil)
}

func (f *fakeCloud) fetchCount(class string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[class]
}

func (f *fakeCloud) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeCloud) subscriptions() [][]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]map[string]any, len(f.subsPerConn))
	copy(out, f.subsPerConn)
	return out
}

func (f *fakeCloud) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeCloud) checkHeaders(r *http.Request) bool {
	return r.Header.Get("x-parse-application-id") == DefaultAppID &&
		r.Header.Get("x-parse-client-key") == DefaultClientKey &&
		r.Header.Get("x-parse-installation-id") != ""
}

func (f *fakeCloud) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !f.checkHeaders(r) {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": 1, "error": "missing headers"})
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["username"] != testUsername || body["password"] != testPassword || body["_method"] != "GET" {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 101, "error": "Invalid username/password."})
		return
	}

	f.mu.Lock()
	f.logins++
	token := fmt.Sprintf("tok-%d", f.logins)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"objectId": "user1", "sessionToken": token})
}

func (f *fakeCloud) handleClass(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	f.mu.Lock()
	reject := f.rejectToken
	f.mu.Unlock()

	token := r.Header.Get("x-parse-session-token")
	if token == "" || token == reject {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": errCodeInvalidSession, "error": "invalid session token"})
		return
	}

	f.mu.Lock()
	f.fetches[name]++
	home := f.homeResponse
	f.mu.Unlock()

	switch name {
	case "_User":
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{map[string]any{"objectId": "user1"}}})
	case "Home":
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{home}})
	case "LiveGroup":
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{map[string]any{"objectId": "lg1", "GroupID": "grp-home1"}}})
	case "Empty":
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 101, "error": "Object not found."})
	}
}

func (f *fakeCloud) handleCommand(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	reject := f.rejectToken
	f.mu.Unlock()

	token := r.Header.Get("x-parse-session-token")
	if token == "" || token == reject {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": errCodeInvalidSession, "error": "invalid session token"})
		return
	}
	if r.PathValue("id") != "lg1" {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 101, "error": "Object not found."})
		return
	}
	var body struct {
		Request string `json:"Request"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.commands = append(f.commands, body.Request)
	n := len(f.commands)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"updatedAt": fmt.Sprintf("2024-01-01T00:00:%02d.000Z", n)})
}

var upgrader = websocket.Upgrader{}

func (f *fakeCloud) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var connect map[string]any
	if err := conn.ReadJSON(&connect); err != nil || connect["op"] != "connect" {
		return
	}

	f.mu.Lock()
	f.wsConns++
	n := f.wsConns
	f.connectMsgs = append(f.connectMsgs, connect)
	script := f.script
	f.mu.Unlock()

	if err := conn.WriteJSON(map[string]any{"op": "connected", "clientId": fmt.Sprintf("client-%d", n)}); err != nil {
		return
	}

	subs := make([]map[string]any, 0, 3)
	for len(subs) < 3 {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg["op"] == "subscribe" {
			subs = append(subs, msg)
			_ = conn.WriteJSON(map[string]any{"op": "subscribed", "clientId": fmt.Sprintf("client-%d", n), "requestId": msg["requestId"]})
		}
	}

	f.mu.Lock()
	f.subsPerConn = append(f.subsPerConn, subs)
	f.mu.Unlock()

	if script != nil {
		script(n, conn)
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fastLiveQueryConfig() LiveQueryConfig {
	return LiveQueryConfig{
		MinBackoff:     10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2,
		UnhealthyAfter: 3,
	}
}
