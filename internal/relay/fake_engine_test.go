package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyrelay/internal/artifact"
	"comfyrelay/internal/domain"
	"comfyrelay/internal/engine"
	"comfyrelay/internal/storage"
)

// fakeEngine scripts the engine side of a job: it accepts one event socket,
// waits for the prompt to be queued, then plays frames in order.
type fakeEngine struct {
	t        *testing.T
	server   *httptest.Server
	promptID string
	frames   []frame
	views    map[string]string
	// promptStatus, when set, makes POST /prompt fail with that status.
	promptStatus int
	// hangUp closes the socket right after the script instead of waiting
	// for the client.
	hangUp bool

	queued       chan struct{}
	clientClosed chan struct{}

	// logs receives the relay's JSON log lines.
	logs bytes.Buffer

	mu        sync.Mutex
	clientID  string
	submitted domain.Template
	viewed    []string
}

type frame struct {
	binary bool
	body   string
}

func text(body string) frame { return frame{body: body} }

func newFakeEngine(t *testing.T, promptID string, frames ...frame) *fakeEngine {
	f := &fakeEngine{
		t:            t,
		promptID:     promptID,
		frames:       frames,
		views:        map[string]string{},
		queued:       make(chan struct{}),
		clientClosed: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.serveSocket)
	mux.HandleFunc("/prompt", f.servePrompt)
	mux.HandleFunc("/view", f.serveView)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeEngine) serveSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if !assert.NoError(f.t, err, "upgrade") {
		return
	}
	defer ws.Close()
	f.mu.Lock()
	f.clientID = r.URL.Query().Get("clientId")
	f.mu.Unlock()

	select {
	case <-f.queued:
	case <-time.After(5 * time.Second):
		return
	}
	for _, fr := range f.frames {
		kind := websocket.TextMessage
		if fr.binary {
			kind = websocket.BinaryMessage
		}
		if err := ws.WriteMessage(kind, []byte(fr.body)); err != nil {
			return
		}
	}
	if f.hangUp {
		return
	}
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			close(f.clientClosed)
			return
		}
	}
}

func (f *fakeEngine) servePrompt(w http.ResponseWriter, r *http.Request) {
	if f.promptStatus != 0 {
		w.WriteHeader(f.promptStatus)
		_, _ = io.WriteString(w, `{"error": "engine rejected prompt"}`)
		return
	}
	var req struct {
		Prompt   domain.Template `json:"prompt"`
		ClientID string          `json:"client_id"`
	}
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req), "decode prompt")
	f.mu.Lock()
	f.submitted = req.Prompt
	assert.Equal(f.t, f.clientID, req.ClientID, "client_id must match the socket clientId")
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": f.promptID, "number": 1})
	close(f.queued)
}

func (f *fakeEngine) serveView(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("filename")
	f.mu.Lock()
	f.viewed = append(f.viewed, name)
	f.mu.Unlock()
	data, ok := f.views[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = io.WriteString(w, data)
}

func (f *fakeEngine) viewedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.viewed...)
}

func (f *fakeEngine) sessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clientID
}

// newRelay wires a relay to f with an in-memory artifact store. Relay logs
// land in f.logs; read them only after the event channel has closed.
func (f *fakeEngine) newRelay(idle time.Duration) (*Relay, *storage.MemoryStore) {
	f.t.Helper()
	client, err := engine.NewClient(engine.Options{BaseURL: f.server.URL})
	require.NoError(f.t, err, "engine client")
	store := storage.NewMemoryStore()
	logger := zerolog.New(&f.logs)
	r, err := New(Options{
		Engine:      client,
		Fetcher:     artifact.NewFetcher(artifact.Options{Source: client, Store: store}),
		Logger:      &logger,
		IdleTimeout: idle,
	})
	require.NoError(f.t, err, "new relay")
	return r, store
}

// finishedStatus returns the status logged by the "relay: job finished" line.
func (f *fakeEngine) finishedStatus() string {
	f.t.Helper()
	for _, line := range bytes.Split(f.logs.Bytes(), []byte("\n")) {
		var entry struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		}
		if json.Unmarshal(line, &entry) == nil && entry.Message == "relay: job finished" {
			return entry.Status
		}
	}
	require.FailNow(f.t, "no job finished log line", f.logs.String())
	return ""
}

// collect drains events until the channel closes.
func collect(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var got []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			require.FailNow(t, "stream did not close", "events so far: %#v", got)
		}
	}
}
