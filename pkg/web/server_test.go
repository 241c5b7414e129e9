package web

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/session"
	"github.com/teslashibe/go-callagent/pkg/stt"
	"github.com/teslashibe/go-callagent/pkg/telephony"
	"github.com/teslashibe/go-callagent/pkg/tts"
)

const (
	testSecret    = "admin-secret"
	testAPIKey    = "lk-key"
	testAPISecret = "lk-secret-that-is-long-enough"
)

type fixture struct {
	server *Server
	tel    *telephony.Mock
	mgr    *session.Manager
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel := telephony.NewMock()

	cfg := session.DefaultConfig()
	cfg.Logger = logger
	cfg.Turn.Logger = logger

	// Sessions stay in CONNECTING until hung up.
	mgr := session.NewManager(context.Background(), cfg, session.Deps{
		Dial: func(ctx context.Context, name string) (session.Transport, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Telephony: tel,
		LLM:       inference.NewMock(),
		TTS:       tts.NewMock(),
		STT:       stt.NewMock(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		assert.NoError(t, mgr.Shutdown(ctx))
	})

	srv := NewServer(Config{
		JWTSecret:        testSecret,
		LiveKitAPIKey:    testAPIKey,
		LiveKitAPISecret: testAPISecret,
		Logger:           logger,
	}, mgr)

	token, err := IssueToken(testSecret, "ops", time.Hour)
	require.NoError(t, err)
	return &fixture{server: srv, tel: tel, mgr: mgr, token: token}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := f.server.App().Test(req, 2000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	resp, err := f.server.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.server.App().Test(httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	bad, err := IssueToken("other-secret", "ops", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp, err = f.server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions?token="+f.token, nil)
	resp, err = f.server.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := IssueToken(testSecret, "ops", time.Minute)
	require.NoError(t, err)
	subject, err := VerifyToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)

	expired, err := IssueToken(testSecret, "ops", -time.Minute)
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, expired)
	assert.Error(t, err)

	_, err = IssueToken("", "ops", time.Minute)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/sessions", StartRequest{Room: "call-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "call-1", body["room"])

	resp, _ = f.do(t, http.MethodPost, "/api/sessions", StartRequest{Room: "call-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/sessions", StartRequest{Room: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CONNECTING", body["state"])

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ended", body["status"])
	assert.Equal(t, []string{"call-1"}, f.tel.Deleted())

	require.Eventually(t, func() bool { return f.mgr.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func signedWebhook(t *testing.T, body string) *http.Request {
	t.Helper()
	sum := sha256.Sum256([]byte(body))
	at := auth.NewAccessToken(testAPIKey, testAPISecret)
	at.SetValidFor(time.Minute)
	at.SetSha256(base64.StdEncoding.EncodeToString(sum[:]))
	token, err := at.ToJWT()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/livekit", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/webhook+json")
	req.Header.Set("Authorization", token)
	return req
}

func TestWebhookStartsSessionForSIPCaller(t *testing.T) {
	f := newFixture(t)

	body := `{"event":"participant_joined","room":{"name":"call-7"},"participant":{"identity":"sip_+573001112233"}}`
	resp, err := f.server.App().Test(signedWebhook(t, body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sess, ok := f.mgr.Find("call-7")
	require.True(t, ok)
	assert.Equal(t, "call-7", sess.Room())

	body = `{"event":"room_finished","room":{"name":"call-7"}}`
	resp, err = f.server.App().Test(signedWebhook(t, body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	<-sess.Done()
}

func TestWebhookIgnoresNonSIPParticipants(t *testing.T) {
	f := newFixture(t)

	body := `{"event":"participant_joined","room":{"name":"call-8"},"participant":{"identity":"browser-user"}}`
	resp, err := f.server.App().Test(signedWebhook(t, body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.mgr.Len())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	signed := signedWebhook(t, `{"event":"participant_joined"}`)
	tampered := httptest.NewRequest(http.MethodPost, "/webhook/livekit", bytes.NewBufferString(`{"event":"room_finished"}`))
	tampered.Header = signed.Header.Clone()
	resp, err := f.server.App().Test(tampered)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
