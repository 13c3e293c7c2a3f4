package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/recall/app"
	"github.com/becomeliminal/recall/config"
	"github.com/becomeliminal/recall/engine"
	"github.com/becomeliminal/recall/server"
)

func newApp(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "server.db")
	cfg.LLM.Provider = "mock"
	cfg.Embedding.Provider = "mock"

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(a.Server.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, a.Close(context.Background()))
	})
	return a, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func doJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func upload(t *testing.T, url, filename, content string) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func dial(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readReply collects frames up to the done frame.
func readReply(t *testing.T, conn *websocket.Conn) []server.Frame {
	t.Helper()
	var frames []server.Frame
	for {
		var f server.Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == server.FrameDone {
			return frames
		}
		frames = append(frames, f)
	}
}

func replyText(frames []server.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Text)
	}
	return b.String()
}

func TestHealth(t *testing.T) {
	_, ts := newApp(t)

	var out map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &out))
	assert.Equal(t, "ok", out["status"])
}

func TestSessionsLifecycle(t *testing.T) {
	a, ts := newApp(t)

	var created map[string]string
	assert.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/sessions", &created))
	id := created["session_id"]
	require.NotEmpty(t, id)

	var list struct {
		Sessions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"sessions"`
	}
	getJSON(t, ts.URL+"/sessions", &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, id, list.Sessions[0].ID)
	assert.Equal(t, id[:8], list.Sessions[0].Name)

	var history map[string][]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/sessions/"+id+"/history", &history))
	assert.NotNil(t, history["history"])
	assert.Empty(t, history["history"])

	var deleted map[string]bool
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, ts.URL+"/sessions/"+id, &deleted))
	assert.True(t, deleted["deleted"])
	a.Sessions.Wait()

	getJSON(t, ts.URL+"/sessions", &list)
	assert.Empty(t, list.Sessions)
}

func TestUpload(t *testing.T) {
	a, ts := newApp(t)

	status, out := upload(t, ts.URL, "notes.md", "# Lease\n\nRent is due on the first of the month.")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ingested", out["status"])
	sid, _ := out["session_id"].(string)
	require.NotEmpty(t, sid)
	assert.NotEmpty(t, out["session_name"])

	chunks, err := a.DB.Chunks(context.Background(), sid)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestUpload_Rejections(t *testing.T) {
	_, ts := newApp(t)

	status, _ := upload(t, ts.URL, "scan.pdf", "%PDF-1.7")
	assert.Equal(t, http.StatusUnsupportedMediaType, status)

	status, _ = upload(t, ts.URL, "blank.txt", "  \r\n")
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	resp, err := http.Post(ts.URL+"/upload", "text/plain", strings.NewReader("no form"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatWS_StreamsReply(t *testing.T) {
	a, ts := newApp(t)
	conn := dial(t, ts, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("when is rent due?")))
	frames := readReply(t, conn)

	assert.Greater(t, len(frames), 1, "reply arrives in several frames")
	for _, f := range frames {
		assert.Equal(t, server.FrameToken, f.Type)
	}
	assert.Equal(t, app.MockReply, replyText(frames))

	// A second turn on the same connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("thanks")))
	assert.Equal(t, app.MockReply, replyText(readReply(t, conn)))

	history, err := a.Sessions.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "when is rent due?", history[0].Content)
	assert.Equal(t, app.MockReply, history[1].Content)
}

func TestChatWS_ReportsFailedTurn(t *testing.T) {
	_, ts := newApp(t)
	conn := dial(t, ts, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("   ")))
	frames := readReply(t, conn)

	require.Len(t, frames, 1)
	assert.Equal(t, server.FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Error, "user message is empty")
}

// scriptedChat streams fixed fragments for every turn.
type scriptedChat struct {
	fragments []string
}

func (c scriptedChat) Run(_ context.Context, in *engine.Input) (*engine.Output, error) {
	for _, f := range c.fragments {
		in.StreamCallback(f, false)
	}
	in.StreamCallback("", true)
	return &engine.Output{Text: strings.Join(c.fragments, "")}, nil
}

func TestChatWS_FragmentsNeverEndTheReply(t *testing.T) {
	fragments := []string{"[DONE]", " is what ", "[ERROR] ", "looks like"}
	srv := server.New(scriptedChat{fragments: fragments}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dial(t, ts, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	frames := readReply(t, conn)

	require.Len(t, frames, len(fragments))
	for i, f := range frames {
		assert.Equal(t, server.FrameToken, f.Type)
		assert.Equal(t, fragments[i], f.Text)
	}
}

func TestMetrics(t *testing.T) {
	_, ts := newApp(t)
	conn := dial(t, ts, "s1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	readReply(t, conn)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `recall_chat_turns_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), `recall_prompt_stage_total{stage="full"} 1`)
}
