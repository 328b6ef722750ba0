package server_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chat-relay/internal/auth"
	"github.com/omochice/chat-relay/internal/blob"
	"github.com/omochice/chat-relay/internal/chat"
	"github.com/omochice/chat-relay/internal/server"
	"github.com/omochice/chat-relay/internal/store"
)

type wsFrame struct {
	Online []chat.Identity `json:"online"`
	Error  string          `json:"error"`
	Text   string          `json:"text"`
	File   *string         `json:"file"`
	Sender string          `json:"sender"`
	ID     string          `json:"_id"`
}

func newTestServer(t *testing.T) (baseURL string) {
	t.Helper()

	db, err := store.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.New(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.New("test-secret", time.Hour)

	hub := chat.NewHub(chat.Options{
		Verifier:     authSvc,
		Store:        db,
		Blobs:        blobs,
		Logger:       logger,
		PingInterval: 100 * time.Millisecond,
		PongTimeout:  50 * time.Millisecond,
	})

	srv := server.New(server.Config{
		Addr:   "127.0.0.1:0",
		Hub:    hub,
		Auth:   authSvc,
		Store:  db,
		Blobs:  blobs,
		Logger: logger,
	})

	go func() {
		_ = srv.Start()
	}()
	t.Cleanup(srv.Stop)

	require.Eventually(t, func() bool {
		return srv.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond, "server did not start")

	return "http://" + srv.Addr()
}

// register creates an account and returns its id and session token.
func register(t *testing.T, baseURL, username, password string) (id, token string) {
	t.Helper()
	resp := postJSON(t, baseURL+"/register", map[string]string{
		"username": username,
		"password": password,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var account struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&account))
	require.Equal(t, username, account.Username)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "token" {
			return account.ID, cookie.Value
		}
	}
	t.Fatal("register response did not set a token cookie")
	return "", ""
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func getWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func dialWS(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Cookie", "token="+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+baseURL[len("http"):]+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func awaitWSFrame(t *testing.T, conn *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f wsFrame
		require.NoError(t, json.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func TestRegisterProfileLogin(t *testing.T) {
	baseURL := newTestServer(t)

	id, token := register(t, baseURL, "alice", "hunter2")

	resp := getWithToken(t, baseURL+"/profile", token)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var profile struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.Equal(t, id, profile.UserID)
	assert.Equal(t, "alice", profile.Username)

	login := postJSON(t, baseURL+"/login", map[string]string{
		"username": "alice",
		"password": "hunter2",
	})
	defer login.Body.Close()
	assert.Equal(t, http.StatusOK, login.StatusCode)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	baseURL := newTestServer(t)
	register(t, baseURL, "alice", "hunter2")

	resp := postJSON(t, baseURL+"/register", map[string]string{
		"username": "alice",
		"password": "other",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_Failures(t *testing.T) {
	baseURL := newTestServer(t)
	register(t, baseURL, "alice", "hunter2")

	resp := postJSON(t, baseURL+"/login", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, baseURL+"/login", map[string]string{
		"username": "nobody",
		"password": "x",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProfile_RequiresToken(t *testing.T) {
	baseURL := newTestServer(t)

	resp := getWithToken(t, baseURL+"/profile", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getWithToken(t, baseURL+"/profile", "garbage")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_ClearsCookie(t *testing.T) {
	baseURL := newTestServer(t)

	resp := postJSON(t, baseURL+"/logout", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cleared bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "token" {
			cleared = cookie.Value == "" && cookie.MaxAge < 0
		}
	}
	assert.True(t, cleared, "logout must expire the token cookie")
}

func TestPeople_ListsRegisteredUsers(t *testing.T) {
	baseURL := newTestServer(t)
	aliceID, _ := register(t, baseURL, "alice", "pw")
	bobID, _ := register(t, baseURL, "bob", "pw")

	resp := getWithToken(t, baseURL+"/people", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var people []struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&people))
	require.Len(t, people, 2)
	assert.Equal(t, "alice", people[0].Username)
	assert.Equal(t, aliceID, people[0].ID)
	assert.Equal(t, "bob", people[1].Username)
	assert.Equal(t, bobID, people[1].ID)
}

func TestMessageFlowEndToEnd(t *testing.T) {
	baseURL := newTestServer(t)
	aliceID, aliceToken := register(t, baseURL, "alice", "pw")
	bobID, bobToken := register(t, baseURL, "bob", "pw")

	alice := dialWS(t, baseURL, aliceToken)
	bob := dialWS(t, baseURL, bobToken)
	awaitWSFrame(t, bob, func(f wsFrame) bool { return f.Online != nil })

	payload, err := json.Marshal(map[string]string{"recipient": bobID, "text": "hi bob"})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, payload))

	delivery := awaitWSFrame(t, bob, func(f wsFrame) bool { return f.ID != "" })
	assert.Equal(t, "hi bob", delivery.Text)
	assert.Equal(t, aliceID, delivery.Sender)
	assert.Nil(t, delivery.File)

	// The persisted message is visible in history from both sides.
	for _, view := range []struct{ token, other string }{
		{aliceToken, bobID},
		{bobToken, aliceID},
	} {
		resp := getWithToken(t, fmt.Sprintf("%s/messages/%s", baseURL, view.other), view.token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var messages []struct {
			ID   string  `json:"_id"`
			Text string  `json:"text"`
			File *string `json:"file"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
		resp.Body.Close()
		require.Len(t, messages, 1)
		assert.Equal(t, "hi bob", messages[0].Text)
		assert.Nil(t, messages[0].File)
	}
}

func TestMessages_RequiresToken(t *testing.T) {
	baseURL := newTestServer(t)

	resp := getWithToken(t, baseURL+"/messages/1", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAttachmentUploadAndServe(t *testing.T) {
	baseURL := newTestServer(t)
	_, aliceToken := register(t, baseURL, "alice", "pw")
	bobID, bobToken := register(t, baseURL, "bob", "pw")

	alice := dialWS(t, baseURL, aliceToken)
	bob := dialWS(t, baseURL, bobToken)
	awaitWSFrame(t, bob, func(f wsFrame) bool { return f.Online != nil })

	content := []byte("fake image content")
	payload, err := json.Marshal(map[string]any{
		"recipient": bobID,
		"file": map[string]string{
			"name": "photo.png",
			"data": "data:image/png;base64," + base64.StdEncoding.EncodeToString(content),
		},
	})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, payload))

	delivery := awaitWSFrame(t, bob, func(f wsFrame) bool { return f.ID != "" })
	require.NotNil(t, delivery.File)

	resp, err := http.Get(baseURL + "/uploads/" + *delivery.File)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	served, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, served)
}

func TestWebSocket_InvalidTokenIsClosed(t *testing.T) {
	baseURL := newTestServer(t)

	conn := dialWS(t, baseURL, "garbage")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestStop_IsIdempotent(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.New(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.New("test-secret", time.Hour)
	hub := chat.NewHub(chat.Options{
		Verifier: authSvc,
		Store:    db,
		Blobs:    blobs,
		Logger:   logger,
	})

	srv := server.New(server.Config{
		Addr:   "127.0.0.1:0",
		Hub:    hub,
		Auth:   authSvc,
		Store:  db,
		Blobs:  blobs,
		Logger: logger,
	})
	assert.Equal(t, "", srv.Addr())

	go func() {
		_ = srv.Start()
	}()
	require.Eventually(t, func() bool {
		return srv.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond, "server did not start")

	srv.Stop()
	assert.NotPanics(t, srv.Stop)
}
