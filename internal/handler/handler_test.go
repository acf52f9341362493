package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/media"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/retry"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/transcribe"
	"github.com/pavelanni/viva/internal/viva"
)

const testPassword = "correct-horse"

type testServer struct {
	srv   *httptest.Server
	store *store.Store
	llm   *llm.MockProvider
	stt   *transcribe.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))
	require.NoError(t, prompts.Load(prompts.DefaultFS))

	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ms, err := media.New(media.Config{Root: t.TempDir(), MaxSizeMB: 1})
	require.NoError(t, err)

	fast := retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
	provider := llm.NewMockProvider()
	stt := transcribe.NewMock()
	orch := viva.New(st, ms, transcribe.WithRetry(stt, fast),
		llm.NewInterviewer(llm.WithRetry(provider, fast), prompts.PromptStandard, llm.DefaultConfig()), 5)

	h, err := New(st, orch, ms, model.ServerConfig{JWTSecret: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)

	ts := &testServer{srv: httptest.NewServer(r), store: st, llm: provider, stt: stt}
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) addUser(t *testing.T, username string, role model.UserRole) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	id, err := ts.store.CreateUser(model.User{
		Username:     username,
		DisplayName:  strings.ToUpper(username[:1]) + username[1:],
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	require.NoError(t, err)
	return id
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	resp := ts.do(t, "", http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out loginResponse
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (ts *testServer) do(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) upload(t *testing.T, token, path, filename string, content []byte) *http.Response {
	t.Helper()
	return ts.uploadField(t, token, path, "audio", filename, content)
}

func (ts *testServer) uploadField(t *testing.T, token, path, field, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var e errorResponse
	decodeBody(t, resp, &e)
	return e.Code
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "alice", model.UserRoleStudent)

	resp := ts.do(t, "", http.MethodGet, "/api/v1/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, "", http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "LoginError", errorCode(t, resp))

	resp = ts.do(t, "", http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ErrValidation", errorCode(t, resp))

	token := ts.login(t, "alice")
	resp = ts.do(t, token, http.MethodGet, "/api/v1/users/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me model.User
	decodeBody(t, resp, &me)
	assert.Equal(t, "alice", me.Username)
	assert.Empty(t, me.PasswordHash)

	resp = ts.do(t, token, http.MethodPost, "/api/v1/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, token, http.MethodGet, "/api/v1/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "revoked token must be rejected")

	resp = ts.do(t, "not-a-jwt", http.MethodGet, "/api/v1/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateUser(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "root", model.UserRoleAdmin)
	ts.addUser(t, "prof", model.UserRoleTeacher)
	admin := ts.login(t, "root")
	teacher := ts.login(t, "prof")

	body := map[string]string{"username": "bob", "password": "long-enough", "role": "student"}

	resp := ts.do(t, teacher, http.MethodPost, "/api/v1/users", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, admin, http.MethodPost, "/api/v1/users", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var u model.User
	decodeBody(t, resp, &u)
	assert.Equal(t, "bob", u.DisplayName)
	assert.Equal(t, model.UserRoleStudent, u.Role)

	resp = ts.do(t, admin, http.MethodPost, "/api/v1/users", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, admin, http.MethodPost, "/api/v1/users",
		map[string]string{"username": "eve", "password": "long-enough", "role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// createAssignment posts an assignment as the teacher and returns it.
func createAssignment(t *testing.T, ts *testServer, teacher string, maxQuestions int) model.Assignment {
	t.Helper()
	resp := ts.do(t, teacher, http.MethodPost, "/api/v1/assignments", map[string]any{
		"title":              "Goroutines",
		"allow_mock_viva":    true,
		"max_viva_questions": maxQuestions,
		"questions":          []map[string]any{{"text": "What is a goroutine?"}},
		"viva_questions": []map[string]any{
			{"text": "Why are goroutines cheap?", "expected_keywords": []string{"stack", "scheduler"}},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var a model.Assignment
	decodeBody(t, resp, &a)
	return a
}

func TestAssignmentsAndSubmissions(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "prof", model.UserRoleTeacher)
	ts.addUser(t, "other", model.UserRoleTeacher)
	ts.addUser(t, "alice", model.UserRoleStudent)
	ts.addUser(t, "bob", model.UserRoleStudent)
	teacher := ts.login(t, "prof")
	other := ts.login(t, "other")
	alice := ts.login(t, "alice")
	bob := ts.login(t, "bob")

	resp := ts.do(t, alice, http.MethodPost, "/api/v1/assignments", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, teacher, http.MethodPost, "/api/v1/assignments", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	a := createAssignment(t, ts, teacher, 3)
	require.Len(t, a.VivaQuestions, 1)
	path := "/api/v1/assignments/" + itoa(a.ID)

	resp = ts.do(t, alice, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var seen model.Assignment
	decodeBody(t, resp, &seen)
	assert.Empty(t, seen.VivaQuestions, "students must not see viva questions")
	require.Len(t, seen.Questions, 1)

	resp = ts.do(t, other, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, other, http.MethodGet, "/api/v1/assignments", nil)
	var list []model.Assignment
	decodeBody(t, resp, &list)
	assert.Empty(t, list)

	resp = ts.do(t, alice, http.MethodPost, path+"/submissions", map[string]any{
		"status":  "submitted",
		"answers": []map[string]any{{"question_id": seen.Questions[0].ID, "text": "a green thread"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sub model.Submission
	decodeBody(t, resp, &sub)
	assert.Equal(t, model.SubmissionSubmitted, sub.Status)

	resp = ts.do(t, alice, http.MethodPost, path+"/submissions", map[string]any{
		"answers": []map[string]any{{"question_id": 9999, "text": "?"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ErrUnknownQuestion", errorCode(t, resp))

	subPath := "/api/v1/submissions/" + itoa(sub.ID)
	assert.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, subPath, nil).StatusCode)
	assert.Equal(t, http.StatusOK, ts.do(t, teacher, http.MethodGet, subPath, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, bob, http.MethodGet, subPath, nil).StatusCode)
}

func TestImportAssignments(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "prof", model.UserRoleTeacher)
	teacher := ts.login(t, "prof")

	content := []byte(`[{"title":"Channels","questions":["What is a channel?"],"viva_questions":[{"text":"When does a send block?"}]}]`)
	send := func() *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "channels.json")
		require.NoError(t, err)
		_, _ = fw.Write(content)
		require.NoError(t, mw.Close())
		req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/v1/assignments/import", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+teacher)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := send()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = send()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "UploadDuplicate", errorCode(t, resp))

	n, err := ts.store.AssignmentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVivaSessionFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "prof", model.UserRoleTeacher)
	ts.addUser(t, "alice", model.UserRoleStudent)
	ts.addUser(t, "bob", model.UserRoleStudent)
	teacher := ts.login(t, "prof")
	alice := ts.login(t, "alice")
	bob := ts.login(t, "bob")
	a := createAssignment(t, ts, teacher, 2)

	resp := ts.do(t, teacher, http.MethodPost, "/api/v1/viva/sessions", map[string]any{"assignment_id": a.ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The generator is down: nothing is created.
	resp = ts.do(t, alice, http.MethodPost, "/api/v1/viva/sessions", map[string]any{"assignment_id": a.ID})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "ErrCollaboratorUnavailable", errorCode(t, resp))

	resp = ts.do(t, alice, http.MethodPost, "/api/v1/viva/sessions", map[string]any{"assignment_id": 9999})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ts.llm.AddJSON(`{"question":"Why are goroutines cheaper than threads?"}`)
	resp = ts.do(t, alice, http.MethodPost, "/api/v1/viva/sessions", map[string]any{"assignment_id": a.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started viva.StartResult
	decodeBody(t, resp, &started)
	assert.Equal(t, "Why are goroutines cheaper than threads?", started.Question)
	assert.Equal(t, 2, started.MaxQuestions)
	sessPath := "/api/v1/viva/sessions/" + itoa(started.SessionID)

	resp = ts.upload(t, bob, sessPath+"/respond", "answer.webm", []byte("audio"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other students cannot see the session")

	resp = ts.upload(t, alice, sessPath+"/respond", "answer.exe", []byte("audio"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ErrUnsupportedFormat", errorCode(t, resp))

	ts.stt.Add(transcribe.MockResult{Text: "They start with a small stack."})
	ts.llm.AddJSON(`{"score":80,"final":false,"next_question":"Who schedules them?","per_question_scores":[],"feedback":""}`)
	resp = ts.upload(t, alice, sessPath+"/respond", "answer.webm", []byte("audio"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var turn viva.TurnResult
	decodeBody(t, resp, &turn)
	assert.False(t, turn.Completed)
	assert.Equal(t, "Who schedules them?", turn.NextQuestion)

	ts.stt.Add(transcribe.MockResult{Text: "The Go runtime."})
	ts.llm.AddJSON(`{"score":100,"final":true,"next_question":"","per_question_scores":[80,100],"feedback":"Solid."}`)
	resp = ts.upload(t, alice, sessPath+"/respond", "answer.webm", []byte("audio"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &turn)
	assert.True(t, turn.Completed)
	require.NotNil(t, turn.AggregateScore)
	assert.Equal(t, 90.0, *turn.AggregateScore)

	resp = ts.upload(t, alice, sessPath+"/respond", "answer.webm", []byte("audio"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ErrInvalidState", errorCode(t, resp))

	resp = ts.do(t, alice, http.MethodPost, sessPath+"/abandon", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, alice, http.MethodPost, sessPath+"/override", map[string]any{"score": 85})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, teacher, http.MethodPost, sessPath+"/override", map[string]any{"score": 120})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, teacher, http.MethodPost, sessPath+"/override", map[string]any{"score": 85, "comment": "Fair."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess model.VivaSession
	decodeBody(t, resp, &sess)
	assert.Equal(t, 85.0, *sess.TeacherScore)
	assert.Equal(t, 90.0, *sess.AggregateScore)

	resp = ts.do(t, teacher, http.MethodPost, sessPath+"/answers/1/override", map[string]any{"score": 70})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, teacher, http.MethodPost, sessPath+"/answers/5/override", map[string]any{"score": 70})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, alice, http.MethodGet, sessPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &sess)
	require.Len(t, sess.Answers, 2)
	assert.Equal(t, "They start with a small stack.", sess.Answers[0].Transcript)

	resp = ts.do(t, alice, http.MethodGet, "/api/v1/media/"+sess.Answers[0].MediaAssetID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(body))
	assert.Equal(t, http.StatusNotFound, ts.do(t, bob, http.MethodGet, "/api/v1/media/"+sess.Answers[0].MediaAssetID, nil).StatusCode)

	resp = ts.do(t, bob, http.MethodGet, "/api/v1/viva/sessions", nil)
	var list []model.VivaSession
	decodeBody(t, resp, &list)
	assert.Empty(t, list)

	resp = ts.do(t, teacher, http.MethodGet, "/api/v1/viva/sessions?status=completed", nil)
	decodeBody(t, resp, &list)
	assert.Len(t, list, 1)

	resp = ts.do(t, teacher, http.MethodGet, "/api/v1/viva/sessions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, teacher, http.MethodGet, sessPath+"/llm-calls", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, teacher, http.MethodGet, "/review/"+itoa(started.SessionID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "Viva session #"+itoa(started.SessionID))
	assert.Contains(t, string(page), "The Go runtime.")
	assert.Contains(t, string(page), "2 answers")
	assert.Contains(t, string(page), "Final score: 80.0")
}

func TestAbandonInProgress(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "prof", model.UserRoleTeacher)
	ts.addUser(t, "alice", model.UserRoleStudent)
	teacher := ts.login(t, "prof")
	alice := ts.login(t, "alice")
	a := createAssignment(t, ts, teacher, 3)

	ts.llm.AddJSON(`{"question":"Q0"}`)
	resp := ts.do(t, alice, http.MethodPost, "/api/v1/viva/sessions", map[string]any{"assignment_id": a.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started viva.StartResult
	decodeBody(t, resp, &started)

	sessPath := "/api/v1/viva/sessions/" + itoa(started.SessionID)
	resp = ts.do(t, alice, http.MethodPost, sessPath+"/abandon", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, teacher, http.MethodPost, sessPath+"/override", map[string]any{"score": 50})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{viva.ErrNotFound, http.StatusNotFound},
		{viva.ErrInvalidState, http.StatusConflict},
		{&viva.CollaboratorError{Name: "transcription", Err: transcribe.ErrUnavailable}, http.StatusServiceUnavailable},
		{viva.ErrInvalidInput, http.StatusBadRequest},
		{media.ErrTooLarge, http.StatusBadRequest},
		{fmt.Errorf("save answer: %w", media.ErrEmpty), http.StatusBadRequest},
		{media.ErrNoTranscript, http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := errorStatus(tt.err)
		assert.Equal(t, tt.want, got, "error %v", tt.err)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
