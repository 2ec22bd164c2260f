package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/liveclass/config"
	"github.com/mossy-p/liveclass/internal/lesson"
	"github.com/mossy-p/liveclass/internal/middleware"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/redis"
	"github.com/mossy-p/liveclass/internal/signaling"
	"github.com/mossy-p/liveclass/internal/store"
	"github.com/pion/webrtc/v4"
	goredis "github.com/redis/go-redis/v9"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeLectures is an in-memory LectureStore
type fakeLectures struct {
	mu       sync.Mutex
	lectures []models.Lecture
}

func (f *fakeLectures) Create(ctx context.Context, lecture *models.Lecture) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lecture.ID = int64(len(f.lectures) + 1)
	lecture.CreatedAt = time.Now().UTC()
	f.lectures = append(f.lectures, *lecture)
	return nil
}

func (f *fakeLectures) ListByClass(ctx context.Context, classID string) ([]models.Lecture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Lecture
	for i := len(f.lectures) - 1; i >= 0; i-- {
		if f.lectures[i].ClassID == classID {
			out = append(out, f.lectures[i])
		}
	}
	return out, nil
}

func (f *fakeLectures) Get(ctx context.Context, id int64) (models.Lecture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lectures {
		if l.ID == id {
			return l, nil
		}
	}
	return models.Lecture{}, store.ErrNotFound
}

type testServer struct {
	router    *gin.Engine
	transport *signaling.MemoryTransport
	lectures  *Lectures
	mr        *miniredis.Miniredis
	client    *goredis.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	redis.Use(client)

	blobs, err := store.NewBlobs(t.TempDir())
	if err != nil {
		t.Fatalf("blobs: %v", err)
	}

	cfg := &config.Config{
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"*"},
		RetainTTL:      time.Hour,
	}
	transport := signaling.NewMemoryTransport()
	lectures := &Lectures{
		Store: &fakeLectures{},
		Blobs: blobs,
		Cache: lesson.NewCache(client, time.Hour),
	}

	return &testServer{
		router:    NewRouter(cfg, transport, lectures),
		transport: transport,
		lectures:  lectures,
		mr:        mr,
		client:    client,
	}
}

func (s *testServer) do(t *testing.T, method, target, user string, role models.Role, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		token, err := middleware.IssueToken(testSecret, user, role, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/auth/login", "", "",
		strings.NewReader(`{"username":"ms-rao","password":"x","role":"teacher"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body)
	}
	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != "ms-rao" || resp.Role != models.RoleTeacher || resp.Token == "" {
		t.Errorf("response = %+v", resp)
	}

	w = s.do(t, http.MethodPost, "/api/auth/login", "", "",
		strings.NewReader(`{"username":"sam","password":"x"}`), "application/json")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Role != models.RoleStudent {
		t.Errorf("default role = %q", resp.Role)
	}

	w = s.do(t, http.MethodPost, "/api/auth/login", "", "",
		strings.NewReader(`{"username":"sam","password":"x","role":"admin"}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid role: status %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/auth/login", "", "",
		strings.NewReader(`{"username":"sam"}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing password: status %d", w.Code)
	}
}

func TestLive_StartGetEnd(t *testing.T) {
	s := newTestServer(t)
	const target = "/api/classes/300/live"

	if w := s.do(t, http.MethodPost, target, "", "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous start: status %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, target, "sam", models.RoleStudent, nil, ""); w.Code != http.StatusForbidden {
		t.Errorf("student start: status %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, target, "", "", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("get before start: status %d", w.Code)
	}

	w := s.do(t, http.MethodPost, target, "ms-rao", models.RoleTeacher, nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("start: status %d: %s", w.Code, w.Body)
	}
	var started models.StartLiveResponse
	json.Unmarshal(w.Body.Bytes(), &started)
	if started.Channel != "live-300" {
		t.Errorf("channel = %q", started.Channel)
	}

	if w := s.do(t, http.MethodPost, target, "mr-lee", models.RoleTeacher, nil, ""); w.Code != http.StatusConflict {
		t.Errorf("second teacher: status %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, target, "ms-rao", models.RoleTeacher, nil, ""); w.Code != http.StatusCreated {
		t.Errorf("restart by owner: status %d", w.Code)
	}

	w = s.do(t, http.MethodGet, target, "", "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	var live models.LiveClass
	json.Unmarshal(w.Body.Bytes(), &live)
	if live.TeacherID != "ms-rao" || live.Channel != "live-300" {
		t.Errorf("live = %+v", live)
	}

	s.transport.Retain(context.Background(), "live-300", []byte("offer"), true)

	if w := s.do(t, http.MethodDelete, target, "mr-lee", models.RoleTeacher, nil, ""); w.Code != http.StatusForbidden {
		t.Errorf("end by other teacher: status %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, target, "ms-rao", models.RoleTeacher, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("end: status %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, target, "", "", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after end: status %d", w.Code)
	}
	retained, _ := s.transport.Retained(context.Background(), "live-300")
	if len(retained) != 0 {
		t.Errorf("retained after end = %d, want 0", len(retained))
	}
}

func TestLive_Expires(t *testing.T) {
	s := newTestServer(t)
	const target = "/api/classes/300/live"

	if w := s.do(t, http.MethodPost, target, "ms-rao", models.RoleTeacher, nil, ""); w.Code != http.StatusCreated {
		t.Fatalf("start: status %d", w.Code)
	}
	s.mr.FastForward(2 * time.Hour)
	if w := s.do(t, http.MethodGet, target, "", "", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after ttl: status %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(t, http.MethodGet, "/health", "", "", nil, ""); w.Code != http.StatusOK {
		t.Errorf("status %d", w.Code)
	}
	s.mr.Close()
	if w := s.do(t, http.MethodGet, "/health", "", "", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("redis down: status %d", w.Code)
	}
}

func artifactBody(t *testing.T, timelineText string) ([]byte, *bytes.Buffer, string) {
	t.Helper()
	data, err := lesson.Encode(&lesson.Lesson{
		Metadata: lesson.Metadata{
			Subject:  "math101",
			Teacher:  "ms-rao",
			Date:     "2026-03-01",
			Time:     "09:00",
			Timeline: timelineText,
		},
		Media:  lesson.File{Name: "audio.ogg", Data: []byte("OggS-audio")},
		Slides: []lesson.File{{Name: "1.png", Data: []byte("first")}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("artifact", "lesson.zip")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(data)
	mw.WriteField("live", "true")
	mw.Close()
	return data, body, mw.FormDataContentType()
}

func TestLectures_UploadListDownload(t *testing.T) {
	s := newTestServer(t)

	data, body, contentType := artifactBody(t, "00:00 -> 1")
	w := s.do(t, http.MethodPost, "/api/classes/300/lectures", "ms-rao", models.RoleTeacher, body, contentType)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d: %s", w.Code, w.Body)
	}
	var created models.Lecture
	json.Unmarshal(w.Body.Bytes(), &created)
	if created.ID == 0 || created.ClassID != "300" || created.Subject != "math101" || !created.IsLiveRecorded {
		t.Errorf("lecture = %+v", created)
	}
	if !strings.HasPrefix(created.StoragePath, "300/") || !strings.HasSuffix(created.StoragePath, ".zip") {
		t.Errorf("storage path = %q", created.StoragePath)
	}

	w = s.do(t, http.MethodGet, "/api/classes/300/lectures", "sam", models.RoleStudent, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var listed []models.Lecture
	json.Unmarshal(w.Body.Bytes(), &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("listed = %+v", listed)
	}

	key := path.Base(created.StoragePath)
	if _, err := s.lectures.Cache.Get(context.Background(), key); err == nil {
		t.Fatal("artifact cached before first download")
	}

	w = s.do(t, http.MethodGet, "/api/lectures/1/artifact", "sam", models.RoleStudent, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("download: status %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Error("downloaded artifact differs from upload")
	}
	if got := w.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("content type = %q", got)
	}

	cached, err := s.lectures.Cache.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("artifact not cached after download: %v", err)
	}
	if !bytes.Equal(cached, data) {
		t.Error("cached artifact differs from upload")
	}
}

func uploadForm(t *testing.T, meta lesson.Metadata) (*bytes.Buffer, string) {
	t.Helper()
	data, err := lesson.Encode(&lesson.Lesson{
		Metadata: meta,
		Media:    lesson.File{Name: "audio.ogg", Data: []byte("OggS-audio")},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, _ := mw.CreateFormFile("artifact", "lesson.zip")
	part.Write(data)
	mw.Close()
	return body, mw.FormDataContentType()
}

func TestLectures_LiveFlagFromArtifact(t *testing.T) {
	s := newTestServer(t)

	body, contentType := uploadForm(t, lesson.Metadata{Subject: "math101", Date: "d", Time: "t1", Timeline: "00:03 -> 1", Live: true})
	w := s.do(t, http.MethodPost, "/api/classes/300/lectures", "ms-rao", models.RoleTeacher, body, contentType)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d: %s", w.Code, w.Body)
	}
	var created models.Lecture
	json.Unmarshal(w.Body.Bytes(), &created)
	if !created.IsLiveRecorded {
		t.Errorf("live recording not flagged: %+v", created)
	}

	body, contentType = uploadForm(t, lesson.Metadata{Subject: "math101", Date: "d", Time: "t2"})
	w = s.do(t, http.MethodPost, "/api/classes/300/lectures", "ms-rao", models.RoleTeacher, body, contentType)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d: %s", w.Code, w.Body)
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	if created.IsLiveRecorded {
		t.Errorf("offline recording flagged live: %+v", created)
	}
}

func TestLectures_EmptyList(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/classes/404/lectures", "sam", models.RoleStudent, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestLectures_Rejected(t *testing.T) {
	s := newTestServer(t)

	_, body, contentType := artifactBody(t, "01:00 -> 1\n00:30 -> 2")
	if w := s.do(t, http.MethodPost, "/api/classes/300/lectures", "ms-rao", models.RoleTeacher, body, contentType); w.Code != http.StatusBadRequest {
		t.Errorf("malformed timeline: status %d", w.Code)
	}

	_, body, contentType = artifactBody(t, "00:00 -> 1")
	if w := s.do(t, http.MethodPost, "/api/classes/300/lectures", "sam", models.RoleStudent, body, contentType); w.Code != http.StatusForbidden {
		t.Errorf("student upload: status %d", w.Code)
	}

	mwBody := &bytes.Buffer{}
	mw := multipart.NewWriter(mwBody)
	part, _ := mw.CreateFormFile("artifact", "lesson.zip")
	part.Write([]byte("not a zip"))
	mw.Close()
	if w := s.do(t, http.MethodPost, "/api/classes/300/lectures", "ms-rao", models.RoleTeacher, mwBody, mw.FormDataContentType()); w.Code != http.StatusBadRequest {
		t.Errorf("not a zip: status %d", w.Code)
	}

	if w := s.do(t, http.MethodGet, "/api/lectures/7/artifact", "sam", models.RoleStudent, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown lecture: status %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/lectures/abc/artifact", "sam", models.RoleStudent, nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d", w.Code)
	}
}

func testOffer() models.Offer {
	return models.Offer{
		NegotiationID: "n1",
		Description:   webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
	}
}

func expectEnvelope(t *testing.T, ch <-chan models.Envelope) models.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return models.Envelope{}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := models.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func waitRetained(t *testing.T, transport *signaling.MemoryTransport, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		retained, _ := transport.Retained(context.Background(), topic)
		if len(retained) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never retained %d messages", topic, n)
}

func authHeader(t *testing.T, user string, role models.Role) http.Header {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, user, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return http.Header{"Authorization": {"Bearer " + token}}
}

func wsTransport(t *testing.T, wsURL, user string, role models.Role) *signaling.WebSocketTransport {
	transport := signaling.NewWebSocketTransport(wsURL)
	transport.Header = authHeader(t, user, role)
	return transport
}

func TestRelay(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	channelURL := wsURL + "/ws/signal/live-300"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Not live yet
	if _, _, err := websocket.DefaultDialer.Dial(channelURL, authHeader(t, "sam", models.RoleStudent)); err == nil {
		t.Fatal("dial succeeded before the class went live")
	}

	if w := s.do(t, http.MethodPost, "/api/classes/300/live", "ms-rao", models.RoleTeacher, nil, ""); w.Code != http.StatusCreated {
		t.Fatalf("start: status %d", w.Code)
	}

	// No token
	if _, _, err := websocket.DefaultDialer.Dial(channelURL, nil); err == nil {
		t.Fatal("dial succeeded without a token")
	}

	teacher := signaling.NewAdapter(wsTransport(t, wsURL, "ms-rao", models.RoleTeacher), "ms-rao")
	th, err := teacher.Join(ctx, "live-300", func(models.Envelope) {})
	if err != nil {
		t.Fatalf("teacher join: %v", err)
	}
	defer th.Close()

	if err := th.Send(ctx, testOffer()); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	waitRetained(t, s.transport, "live-300", 1)

	// A late student still sees the offer, then live traffic.
	received := make(chan models.Envelope, 16)
	student := signaling.NewAdapter(wsTransport(t, wsURL, "sam", models.RoleStudent), "sam")
	sh, err := student.Join(ctx, "live-300", func(env models.Envelope) { received <- env })
	if err != nil {
		t.Fatalf("student join: %v", err)
	}
	defer sh.Close()

	env := expectEnvelope(t, received)
	if offer, ok := env.Message.(models.Offer); !ok || env.From != "ms-rao" || offer.NegotiationID != "n1" {
		t.Fatalf("first signal = %#v", env)
	}

	if err := th.Send(ctx, models.Slide{Index: 2}); err != nil {
		t.Fatalf("send slide: %v", err)
	}
	env = expectEnvelope(t, received)
	if slide, ok := env.Message.(models.Slide); !ok || slide.Index != 2 {
		t.Fatalf("second signal = %#v", env)
	}

	// Malformed frames never reach the channel.
	raw, _, err := websocket.DefaultDialer.Dial(channelURL, authHeader(t, "mallory", models.RoleStudent))
	if err != nil {
		t.Fatalf("raw dial: %v", err)
	}
	defer raw.Close()
	if env := readFrame(t, raw); env.Message.Type() != models.SignalTypeOffer {
		t.Fatalf("replayed %s, want offer", env.Message.Type())
	}
	raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"slide","from":"mallory"}`))
	raw.WriteMessage(websocket.TextMessage, []byte(`not json`))

	if err := th.Send(ctx, models.Slide{Index: 3}); err != nil {
		t.Fatalf("send slide: %v", err)
	}
	env = readFrame(t, raw)
	if slide, ok := env.Message.(models.Slide); !ok || slide.Index != 3 || env.From != "ms-rao" {
		t.Fatalf("raw client got %#v, want slide 3", env)
	}
	env = expectEnvelope(t, received)
	if slide, ok := env.Message.(models.Slide); !ok || slide.Index != 3 {
		t.Fatalf("student got %#v, want slide 3", env)
	}
}

func TestRelay_StampsSenderAndGuardsTeacherSignals(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if w := s.do(t, http.MethodPost, "/api/classes/300/live", "ms-rao", models.RoleTeacher, nil, ""); w.Code != http.StatusCreated {
		t.Fatalf("start: status %d", w.Code)
	}

	received := make(chan models.Envelope, 16)
	student := signaling.NewAdapter(wsTransport(t, wsURL, "sam", models.RoleStudent), "sam")
	sh, err := student.Join(ctx, "live-300", func(env models.Envelope) { received <- env })
	if err != nil {
		t.Fatalf("student join: %v", err)
	}
	defer sh.Close()

	// A student claiming to be the teacher: slides and offers are refused,
	// anything else is relayed under the student's own name.
	rogue := signaling.NewAdapter(wsTransport(t, wsURL, "mallory", models.RoleStudent), "ms-rao")
	rh, err := rogue.Join(ctx, "live-300", func(models.Envelope) {})
	if err != nil {
		t.Fatalf("rogue join: %v", err)
	}
	defer rh.Close()

	rh.Send(ctx, models.Slide{Index: 4})
	rh.Send(ctx, testOffer())
	rh.Send(ctx, models.Candidate{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 9 typ host"}})

	env := expectEnvelope(t, received)
	if _, ok := env.Message.(models.Candidate); !ok || env.From != "mallory" {
		t.Fatalf("got %#v, want a candidate stamped from mallory", env)
	}

	teacher := signaling.NewAdapter(wsTransport(t, wsURL, "ms-rao", models.RoleTeacher), "ms-rao")
	th, err := teacher.Join(ctx, "live-300", func(models.Envelope) {})
	if err != nil {
		t.Fatalf("teacher join: %v", err)
	}
	defer th.Close()
	th.Send(ctx, models.Slide{Index: 1})

	env = expectEnvelope(t, received)
	if slide, ok := env.Message.(models.Slide); !ok || slide.Index != 1 || env.From != "ms-rao" {
		t.Fatalf("got %#v, want slide 1 from ms-rao", env)
	}
	if retained, _ := s.transport.Retained(ctx, "live-300"); len(retained) != 0 {
		t.Errorf("a refused offer was retained: %d payloads", len(retained))
	}
}
