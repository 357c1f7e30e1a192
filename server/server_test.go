package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ComicDetServer/engine"
	"ComicDetServer/imagecodec"
	iface "ComicDetServer/interface"
	"ComicDetServer/ml"
	"ComicDetServer/pipeline"
	"ComicDetServer/task"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testModel() ml.ModelConfig {
	return ml.ModelConfig{
		BatchSize:      2,
		Width:          8,
		Height:         8,
		Channels:       3,
		ClassCount:     1,
		Names:          []string{"balloon"},
		GridW:          2,
		GridH:          2,
		AnchorsPerGrid: 1,
		AnchorShapes:   [][2]float32{{0.3, 0.3}},
		Threshold:      0.5,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetRGBA(0, 0, color.RGBA{A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writeBook stores a three page cbz with ComicInfo under a temp dir.
func writeBook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.cbz")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for _, name := range []string{"p02.png", "p00.png", "p01.png"} {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(pngBytes(t, 40, 60))
		require.NoError(t, err)
	}
	fw, err := w.Create("ComicInfo.xml")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`<?xml version="1.0"?><ComicInfo><Series>Ninjak</Series><Pages><Page Image="1" Type="FrontCover"/></Pages></ComicInfo>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func newTestServer(t *testing.T, backend iface.Backend) (*Server, *httptest.Server) {
	t.Helper()
	pool := task.NewPool(2)
	dec, err := ml.NewDecoder(testModel())
	require.NoError(t, err)
	s := New(Options{
		Pool:      pool,
		Pipeline:  pipeline.New(imagecodec.NewStd()),
		Backend:   backend,
		Decoder:   dec,
		Thumbnail: pipeline.Size{Width: 20},
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		s.jobs.cancelAll()
		ts.Close()
		pool.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPing(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	resp, err := http.Get(ts.URL + "/api/ping")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "pong", body["message"])
	assert.EqualValues(t, 2, body["workers"])
}

func TestInspect(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	resp := postJSON(t, ts.URL+"/api/books/inspect", bookRequest{Path: writeBook(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Format  string `json:"format"`
		Entries []struct {
			Pos  int    `json:"pos"`
			Name string `json:"name"`
		} `json:"entries"`
	}](t, resp)
	assert.Equal(t, "zip", body.Format)
	require.Len(t, body.Entries, 4)
	assert.Equal(t, "p02.png", body.Entries[0].Name)
	assert.Equal(t, 3, body.Entries[3].Pos)
}

func TestInspect_Errors(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))

	resp := postJSON(t, ts.URL+"/api/books/inspect", map[string]string{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/books/inspect", bookRequest{Path: filepath.Join(t.TempDir(), "missing.cbz")})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	junk := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(junk, []byte("just some words"), 0o644))
	resp = postJSON(t, ts.URL+"/api/books/inspect", bookRequest{Path: junk})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetadata(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	resp := postJSON(t, ts.URL+"/api/books/metadata", bookRequest{Path: writeBook(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "Ninjak", body["series"])
}

func TestMetadata_Missing(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 4, 4), 0o644))
	resp := postJSON(t, ts.URL+"/api/books/metadata", bookRequest{Path: dir})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPage(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	path := writeBook(t)

	resp, err := http.Get(ts.URL + "/api/books/page?path=" + path + "&pos=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())

	resp2, err := http.Get(ts.URL + "/api/books/page?path=" + path + "&pos=0&height=15")
	require.NoError(t, err)
	defer resp2.Body.Close()
	img, err = png.Decode(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())

	resp3, err := http.Get(ts.URL + "/api/books/page?path=" + path + "&pos=9")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)

	resp4, err := http.Get(ts.URL + "/api/books/page?path=" + path)
	require.NoError(t, err)
	resp4.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp4.StatusCode)
}

func TestHash(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	resp := postJSON(t, ts.URL+"/api/books/hash", bookRequest{Path: path})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.EqualValues(t, 0, body["size"])
	assert.True(t, strings.HasPrefix(body["blake2b"].(string), "786a02f742015903"))
}

func waitState(t *testing.T, ts *httptest.Server, id string, want State) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/tasks/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if json.NewDecoder(resp.Body).Decode(&snap) != nil {
			return false
		}
		return snap.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestTask_Completes(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	resp := postJSON(t, ts.URL+"/api/tasks", bookRequest{Path: writeBook(t)})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	snap := decode[Snapshot](t, resp)
	require.NotEmpty(t, snap.ID)

	done := waitState(t, ts, snap.ID, Done)
	require.NotNil(t, done.Result)
	require.Len(t, done.Result.Pages, 3)
	assert.Equal(t, "p00.png", done.Result.Pages[0].PageName)
	assert.Equal(t, 2, done.Result.CoverPosition)
	assert.Equal(t, []string{"balloon"}, done.Result.Classes)
	assert.NotNil(t, done.Finished)
}

func TestTask_FailsOnBadPath(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	resp := postJSON(t, ts.URL+"/api/tasks", bookRequest{Path: filepath.Join(t.TempDir(), "nope.cbr")})
	snap := decode[Snapshot](t, resp)
	failed := waitState(t, ts, snap.ID, Failed)
	assert.NotEmpty(t, failed.Error)
}

func TestTask_Unknown(t *testing.T) {
	_, ts := newTestServer(t, engine.Blank(testModel()))
	resp, err := http.Get(ts.URL + "/api/tasks/does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// stuck blocks every batch until the task is cancelled.
func stuck(model ml.ModelConfig, entered chan<- struct{}) *engine.Func {
	return &engine.Func{
		Name:  "stuck",
		Model: model,
		Fn: func(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func TestTask_Cancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	_, ts := newTestServer(t, stuck(testModel(), entered))
	snap := decode[Snapshot](t, postJSON(t, ts.URL+"/api/tasks", bookRequest{Path: writeBook(t)}))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("inference never started")
	}
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/tasks/"+snap.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancelled := waitState(t, ts, snap.ID, Cancelled)
	assert.Nil(t, cancelled.Result)
}

func TestWatch_StreamsUntilDone(t *testing.T) {
	entered := make(chan struct{}, 1)
	_, ts := newTestServer(t, stuck(testModel(), entered))
	snap := decode[Snapshot](t, postJSON(t, ts.URL+"/api/tasks", bookRequest{Path: writeBook(t)}))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/tasks/" + snap.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	<-entered
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/tasks/"+snap.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	var last Snapshot
	for {
		var got Snapshot
		if err := conn.ReadJSON(&got); err != nil {
			break
		}
		last = got
	}
	assert.Equal(t, snap.ID, last.ID)
	assert.Equal(t, Cancelled, last.State)
}

func TestRun_PoolClosed(t *testing.T) {
	s, ts := newTestServer(t, engine.Blank(testModel()))
	s.pool.Close()
	resp := postJSON(t, ts.URL+"/api/tasks", bookRequest{Path: writeBook(t)})
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	err := s.run(context.Background(), func(*task.Task) error { return nil })
	assert.ErrorIs(t, err, task.ErrPoolClosed)
}

func TestJob_TerminalIsFinal(t *testing.T) {
	j := newJob("x")
	j.update(func(s *Snapshot) { s.State = Done })
	j.update(func(s *Snapshot) { s.State = Failed })
	snap, _ := j.snapshot()
	assert.Equal(t, Done, snap.State)
	assert.NotNil(t, snap.Finished)
}
