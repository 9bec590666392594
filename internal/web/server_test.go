package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rag-portal/internal/assessment"
	"rag-portal/internal/config"
	"rag-portal/internal/db"
	"rag-portal/internal/did"
	"rag-portal/internal/estate"
	"rag-portal/internal/models"
	"rag-portal/internal/parser"
	"rag-portal/internal/rag"
	"rag-portal/internal/testutil"
	"rag-portal/internal/usecase"
)

type fakeQA struct {
	resp     *models.PromptResponse
	err      error
	requests []rag.Request
}

func (f *fakeQA) Query(_ context.Context, req rag.Request) (*models.PromptResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.Query = req.Question
	return &resp, nil
}

type fakeAvatar struct {
	calls []string
	err   error
}

func (f *fakeAvatar) CreateStream(_ context.Context, sourceURL string) (*did.StreamDescriptor, error) {
	f.calls = append(f.calls, "create "+sourceURL)
	if f.err != nil {
		return nil, f.err
	}
	return &did.StreamDescriptor{
		ID:         "strm_1",
		SessionID:  "sess_1",
		Offer:      did.Offer{Type: "offer", SDP: "v=0"},
		ICEServers: []did.ICEServer{{URLs: []string{"stun:stun.example.com"}}},
	}, nil
}

func (f *fakeAvatar) StartStream(_ context.Context, id, session, answer string) (*did.StatusResponse, error) {
	f.calls = append(f.calls, fmt.Sprintf("start %s %s %s", id, session, answer))
	return &did.StatusResponse{Status: "success"}, f.err
}

func (f *fakeAvatar) SendTalk(_ context.Context, id, session, text string) (*did.StatusResponse, error) {
	f.calls = append(f.calls, fmt.Sprintf("talk %s %s %s", id, session, text))
	return &did.StatusResponse{Status: "started"}, f.err
}

func (f *fakeAvatar) DeleteStream(_ context.Context, id, session string) error {
	f.calls = append(f.calls, fmt.Sprintf("delete %s %s", id, session))
	return f.err
}

type fakeEstate struct {
	lat, lon float64
	err      error
}

func (f *fakeEstate) PostEstateInfo(_ context.Context, lat, lon float64) (*estate.EstateResponse, error) {
	f.lat, f.lon = lat, lon
	if f.err != nil {
		return nil, f.err
	}
	return &estate.EstateResponse{
		ChibanAddress:       "東京都江戸川区西葛西6丁目",
		SpecificUseDistrict: "第一種住居地域",
		Station:             estate.StationInfo{Stations: []estate.Station{{Station: "西葛西", DistanceM: 480}}},
	}, nil
}

type env struct {
	srv     *Server
	h       http.Handler
	logs    *db.ChatLogRepository
	users   *db.UserRepository
	qa      *fakeQA
	avatar  *fakeAvatar
	estate  *fakeEstate
	model   *testutil.FakeModel
	media   string
	webhook int
}

func newEnv(t *testing.T, mutate ...func(*Options)) *env {
	t.Helper()
	ctx := context.Background()
	bdb, err := db.Open(&config.DatabaseConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "web.db")})
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	require.NoError(t, db.InitDB(ctx, bdb, 0))

	e := &env{
		logs:   db.NewChatLogRepository(bdb),
		users:  db.NewUserRepository(bdb),
		qa:     &fakeQA{resp: &models.PromptResponse{Answer: "**答え**", Sources: []models.Chunk{{Source: "doc.pdf", PageNumber: 2, ChunkID: 1, Type: "pdf"}}}},
		avatar: &fakeAvatar{},
		estate: &fakeEstate{},
		model:  &testutil.FakeModel{Responses: []string{"いらっしゃいませ"}},
		media:  t.TempDir(),
	}
	opts := Options{
		DefaultUser:  "admin",
		DocumentPath: "/docs/white-paper.pdf",
		MediaRoot:    e.media,
		DIDSourceURL: "https://example.com/face.jpg",
		Users:        e.users,
		ChatLogs:     e.logs,
		QA:           e.qa,
		Dispatcher: &usecase.Dispatcher{
			Chat: usecase.NewChatUseCase(assessment.NewService(e.logs, e.model), models.ThreadLine, assessment.Man),
		},
		LineWebhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			e.webhook++
			w.WriteHeader(http.StatusOK)
		}),
		Avatar: e.avatar,
		Estate: e.estate,
	}
	for _, m := range mutate {
		m(&opts)
	}
	e.srv, err = NewServer(opts)
	require.NoError(t, err)
	e.h = e.srv.Handler()
	return e
}

func (e *env) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) doJSON(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndIndex(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Retrieval QA with sources")

	rec = e.do(http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQA_PostRedirectsAndPersists(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/qa/", url.Values{"question": {"晩婚化について教えて"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/qa/", rec.Header().Get("Location"))
	require.Equal(t, []rag.Request{{FilePath: "/docs/white-paper.pdf", Question: "晩婚化について教えて"}}, e.qa.requests)

	user, err := e.users.GetOrCreate(context.Background(), "admin")
	require.NoError(t, err)
	logs, err := e.logs.FindThread(context.Background(), user.ID, models.ThreadQA)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, models.RoleUser, logs[0].Role)
	require.Equal(t, "晩婚化について教えて", logs[0].Message)
	require.Equal(t, "**答え**\n\ndoc.pdf p.2", logs[1].Message)

	rec = e.do(http.MethodGet, "/qa/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "<strong>答え</strong>")
	require.Contains(t, body, "doc.pdf p.2")
	require.Contains(t, body, "晩婚化について教えて")
}

func TestQA_ErrorStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty question", rag.ErrEmptyQuestion, http.StatusBadRequest},
		{"missing document", fmt.Errorf("%w: %w", parser.ErrLoad, os.ErrNotExist), http.StatusNotFound},
		{"upstream", errors.New("openai down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.qa.err = tc.err
			rec := e.do(http.MethodPost, "/qa/", url.Values{"question": {"q"}})
			require.Equal(t, tc.status, rec.Code)
		})
	}

	e := newEnv(t, func(o *Options) { o.QA = nil })
	rec := e.do(http.MethodPost, "/qa/", url.Values{"question": {"q"}})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_CONFIGURED")
}

func TestChat_SplitModeShowsSources(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/chat/", url.Values{"question": {"少子化の要因は"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, parser.ModeSplit, e.qa.requests[0].Mode)
	body := rec.Body.String()
	require.Contains(t, body, "<td>doc.pdf p.2</td>")
	require.Contains(t, body, "<strong>答え</strong>")

	rec = e.do(http.MethodGet, "/chat/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "<td>doc.pdf p.2</td>")
	require.Contains(t, rec.Body.String(), "少子化の要因は")
}

func TestLine_WebFrontHidesInvisibleRows(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/line/", url.Values{"question": {"hello"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "いらっしゃいませ")
	require.Contains(t, body, models.AssessmentStart)
	require.NotContains(t, body, "人材派遣会社の面接官")

	user, err := e.users.GetOrCreate(context.Background(), "admin")
	require.NoError(t, err)
	require.NoError(t, e.logs.Insert(context.Background(), &db.ChatLog{
		UserID: user.ID, Thread: models.ThreadLineMedia, Role: models.RoleAssistant,
		Message: "a fox", FilePath: db.StrPtr("images/fox.jpg"),
	}))
	rec = e.do(http.MethodGet, "/line/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	require.Contains(t, body, "/media/images/fox.jpg")
	require.Less(t, strings.Index(body, "いらっしゃいませ"), strings.Index(body, "/media/images/fox.jpg"))

	rec = e.do(http.MethodPost, "/line/webhook/", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, e.webhook)
}

func TestDID(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/did/", url.Values{"question": {"こんにちは"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "strm_1")
	require.Contains(t, body, "stun:stun.example.com")

	rec = e.doJSON(http.MethodPost, "/did/streams/strm_1/sdp", `{"session_id":"sess_1","answer":"v=0 answer"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.doJSON(http.MethodPost, "/did/streams/strm_1/talk", `{"session_id":"sess_1","text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"started"}`, rec.Body.String())
	rec = e.doJSON(http.MethodDelete, "/did/streams/strm_1", `{"session_id":"sess_1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Equal(t, []string{
		"create https://example.com/face.jpg",
		"start strm_1 sess_1 v=0 answer",
		"talk strm_1 sess_1 hi",
		"delete strm_1 sess_1",
	}, e.avatar.calls)

	rec = e.doJSON(http.MethodPost, "/did/streams/strm_1/talk", `{"text":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_INPUT")

	rec = e.do(http.MethodPost, "/did/", url.Values{"question": {" "}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	e.avatar.err = did.ErrUnauthorized
	rec = e.do(http.MethodPost, "/did/", url.Values{"question": {"q"}})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEstate(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/estate/", url.Values{"coords": {"35.652832, 139.828491"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 35.652832, e.estate.lat)
	require.Equal(t, 139.828491, e.estate.lon)
	body := rec.Body.String()
	require.Contains(t, body, "第一種住居地域")
	require.Contains(t, body, "西葛西 (")

	rec = e.do(http.MethodPost, "/estate/", url.Values{"latitude": {"35.1"}, "longitude": {"139.2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 139.2, e.estate.lon)

	rec = e.do(http.MethodPost, "/estate/", url.Values{"coords": {"somewhere"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	e = newEnv(t, func(o *Options) { o.Estate = nil })
	rec = e.do(http.MethodPost, "/estate/", url.Values{"coords": {"1, 2"}})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMedia(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(e.media, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.media, "images", "a.jpg"), []byte("jpeg"), 0o644))

	rec := e.do(http.MethodGet, "/media/images/a.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "jpeg", rec.Body.String())

	rec = e.do(http.MethodGet, "/media/images/missing.jpg", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, dir := range []string{"/media/", "/media/images/", "/media/images"} {
		rec = e.do(http.MethodGet, dir, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, dir)
		require.NotContains(t, rec.Body.String(), "a.jpg", dir)
	}
}

func TestViews(t *testing.T) {
	e := newEnv(t)
	views := e.srv.views([]db.ChatLog{
		{Role: models.RoleSystem, Message: "secret prompt", Invisible: true},
		{Role: models.RoleUser, Message: "<b>bold?</b>"},
		{Role: models.RoleAssistant, Message: "line one\nline two\n\n<script>alert(1)</script>"},
		{Role: models.RoleAssistant, Message: "image", FilePath: db.StrPtr("images/x.jpg")},
		{Role: models.RoleAssistant, Message: "voice", FilePath: db.StrPtr("audio/y.mp3")},
	})
	require.Len(t, views, 4)
	require.Equal(t, "&lt;b&gt;bold?&lt;/b&gt;", string(views[0].Message))
	require.Contains(t, string(views[1].Message), "line one<br>")
	require.NotContains(t, string(views[1].Message), "<script>")
	require.Equal(t, "/media/images/x.jpg", views[2].FileURL)
	require.Equal(t, "image", views[2].FileKind)
	require.Equal(t, "audio", views[3].FileKind)
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusOf(&usecase.Error{Code: usecase.CodeInvalidInput}))
	require.Equal(t, http.StatusNotFound, statusOf(&usecase.Error{Code: usecase.CodeNotFound}))
	require.Equal(t, http.StatusBadGateway, statusOf(&usecase.Error{Code: usecase.CodeUpstreamError}))
	require.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
	require.Equal(t, http.StatusServiceUnavailable, statusOf(fmt.Errorf("wrap: %w", errNotConfigured)))
}

func TestNewServer_RequiresRepositories(t *testing.T) {
	_, err := NewServer(Options{})
	require.Error(t, err)
}
