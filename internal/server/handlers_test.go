package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/config"
	"github.com/alnah/mediaforge/internal/imagegen"
	"github.com/alnah/mediaforge/internal/job"
	"github.com/alnah/mediaforge/internal/server"
	"github.com/alnah/mediaforge/internal/transcribe"
	"github.com/alnah/mediaforge/internal/video"
)

const testKey = "test-secret"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRunner struct {
	res *job.Result
	err error

	gotJob  *job.Job
	gotPath string
	entered chan struct{} // closed when Run is reached, if set
	release chan struct{} // Run blocks on this, if set
}

func (f *fakeRunner) Run(_ context.Context, j *job.Job, inputPath string) (*job.Result, error) {
	f.gotJob = j
	f.gotPath = inputPath
	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	res.Job = j.Snapshot()
	return &res, nil
}

type fakeStore struct{ info job.StatusInfo }

func (f *fakeStore) Lookup(string) job.StatusInfo { return f.info }

type fakeImages struct {
	res *imagegen.Result
	err error
	got imagegen.Request
}

func (f *fakeImages) Generate(_ context.Context, req imagegen.Request) (*imagegen.Result, error) {
	f.got = req
	return f.res, f.err
}

type fakeVideos struct {
	res *video.Result
	err error

	gotMode string
	gotDur  time.Duration
}

func (f *fakeVideos) BurnSubtitles(_ context.Context, _, _ string) (*video.Result, error) {
	f.gotMode = video.ModeSubtitles
	return f.res, f.err
}

func (f *fakeVideos) Zoom(_ context.Context, _ string, d time.Duration) (*video.Result, error) {
	f.gotMode = video.ModeZoom
	f.gotDur = d
	return f.res, f.err
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	srv    *server.Server
	runner *fakeRunner
	store  *fakeStore
	images *fakeImages
	videos *fakeVideos
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Port:                "8080",
		APIKey:              testKey,
		SpeedFactor:         2.0,
		MaxConcurrentJobs:   2,
		MaxFileSizeMB:       500,
		AllowedAudioFormats: []string{"mp3", "wav", "m4a", "ogg", "flac", "aac"},
		TempDir:             t.TempDir(),
		OutputDir:           t.TempDir(),
	}
	f := &fixture{
		runner: &fakeRunner{res: &job.Result{
			Transcript: job.Transcript{
				Segments: []transcribe.Segment{{Index: 1, Start: 0, End: 4.2, Text: "hello world"}},
				FullText: "hello world",
			},
			SRT:       "1\n00:00:00,000 --> 00:00:04,200\nhello world\n\n",
			PlainText: "hello world",
		}},
		store:  &fakeStore{},
		images: &fakeImages{res: &imagegen.Result{ID: "img-1", ImagePath: "/out/img-1/image.png"}},
		videos: &fakeVideos{res: &video.Result{ID: "vid-1", OutputPath: "/out/vid-1/video.mp4"}},
	}
	f.srv = server.New(cfg, f.runner, f.store, f.images, f.videos)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("X-API-Key", testKey)
	return req
}

// audioUpload builds a multipart body with an audio file and extra fields.
func audioUpload(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	return fileUpload(t, map[string]string{"audio": filename}, fields)
}

func fileUpload(t *testing.T, files, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for field, filename := range files {
		fw, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = io.Copy(fw, strings.NewReader("fake media bytes"))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

// ---------------------------------------------------------------------------
// Auth and liveness
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAuth(t *testing.T) {
	t.Parallel()

	t.Run("missing key is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(httptest.NewRequest(http.MethodGet, "/status/abc", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/status/abc", nil)
		req.Header.Set("X-API-Key", "nope")
		assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)
	})

	t.Run("header key is accepted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(authed(httptest.NewRequest(http.MethodGet, "/status/abc", nil)))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer token is accepted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodGet, "/status/abc", nil)
		req.Header.Set("Authorization", "Bearer "+testKey)
		assert.Equal(t, http.StatusOK, f.do(req).Code)
	})

	t.Run("health needs no key", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	})
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func TestStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.info = job.StatusInfo{Exists: true, Completed: true}

	rec := f.do(authed(httptest.NewRequest(http.MethodGet, "/status/some-id", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got job.StatusInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Exists)
	assert.True(t, got.Completed)
}

// ---------------------------------------------------------------------------
// /transcribe
// ---------------------------------------------------------------------------

func TestTranscribe(t *testing.T) {
	t.Parallel()

	t.Run("json response carries the transcript", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"fullText":"hello world"`)
		assert.Equal(t, "talk.mp3", f.runner.gotJob.SourceName)
		assert.Equal(t, 2.0, f.runner.gotJob.SpeedFactor)
		assert.Equal(t, "json", f.runner.gotJob.Format)
	})

	t.Run("upload is stored for the pipeline", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, f.runner.gotPath, "upload_")
		assert.True(t, strings.HasSuffix(f.runner.gotPath, ".mp3"))
	})

	t.Run("speed is clamped into range", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", map[string]string{"speed": "5.0"})
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		require.Equal(t, http.StatusOK, f.do(req).Code)
		assert.Equal(t, 3.0, f.runner.gotJob.SpeedFactor)
	})

	t.Run("locale hint is reduced to its base code", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", map[string]string{"language": "pt-BR"})
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		require.Equal(t, http.StatusOK, f.do(req).Code)
		assert.Equal(t, "pt", f.runner.gotJob.Language)
	})

	t.Run("unknown language hint is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", map[string]string{"language": "klingon"})
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
		assert.Nil(t, f.runner.gotJob)
	})

	t.Run("srt format returns the subtitle body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", map[string]string{"format": "srt"})
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/x-subrip", rec.Header().Get(echo.HeaderContentType))
		assert.True(t, strings.HasPrefix(rec.Body.String(), "1\n00:00:00,000"))
	})

	t.Run("unsupported extension is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.exe", nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, f.runner.gotJob)
	})

	t.Run("missing audio field is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := fileUpload(t, nil, map[string]string{"speed": "2"})
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})

	t.Run("unknown format value is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := audioUpload(t, "talk.mp3", map[string]string{"format": "pdf"})
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})

	t.Run("media validation failure maps to 422", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.runner.err = fmt.Errorf("transform: Duration mismatch: %w", apierr.ErrValidation)
		body, ctype := audioUpload(t, "talk.mp3", nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "Duration mismatch")
		assert.Contains(t, rec.Body.String(), "jobId")
	})

	t.Run("hard failure maps to 500 with correlation id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.runner.err = fmt.Errorf("job produced no usable segments: %w", apierr.ErrNoSegments)
		body, ctype := audioUpload(t, "talk.mp3", nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "requestId")
	})

	t.Run("admission bound rejects the overflow job", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		// One slot; first request parks inside Run.
		cfg := &config.Config{
			Port:                "8080",
			APIKey:              testKey,
			SpeedFactor:         2.0,
			MaxConcurrentJobs:   1,
			MaxFileSizeMB:       500,
			AllowedAudioFormats: []string{"mp3"},
			TempDir:             t.TempDir(),
		}
		f.runner.entered = make(chan struct{})
		f.runner.release = make(chan struct{})
		f.srv = server.New(cfg, f.runner, f.store, f.images, f.videos)

		firstDone := make(chan *httptest.ResponseRecorder)
		go func() {
			body, ctype := audioUpload(t, "first.mp3", nil)
			req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
			req.Header.Set(echo.HeaderContentType, ctype)
			firstDone <- f.do(req)
		}()
		<-f.runner.entered

		body, ctype := audioUpload(t, "second.mp3", nil)
		req := authed(httptest.NewRequest(http.MethodPost, "/transcribe", body))
		req.Header.Set(echo.HeaderContentType, ctype)
		assert.Equal(t, http.StatusServiceUnavailable, f.do(req).Code)

		close(f.runner.release)
		assert.Equal(t, http.StatusOK, (<-firstDone).Code)
	})
}

// ---------------------------------------------------------------------------
// /generate-image
// ---------------------------------------------------------------------------

func TestGenerateImage(t *testing.T) {
	t.Parallel()

	t.Run("returns the stored image reference", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		req := authed(httptest.NewRequest(http.MethodPost, "/generate-image",
			strings.NewReader(`{"prompt":"a lighthouse","size":"1024x1024"}`)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "img-1")
		assert.Equal(t, "a lighthouse", f.images.got.Prompt)
	})

	t.Run("validation failures map to 400", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.images.err = fmt.Errorf("prompt is required: %w", apierr.ErrValidation)
		req := authed(httptest.NewRequest(http.MethodPost, "/generate-image",
			strings.NewReader(`{"prompt":""}`)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})

	t.Run("provider rejection maps to 502", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.images.err = fmt.Errorf("render: %w", apierr.ErrQuotaExceeded)
		req := authed(httptest.NewRequest(http.MethodPost, "/generate-image",
			strings.NewReader(`{"prompt":"x"}`)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		assert.Equal(t, http.StatusBadGateway, f.do(req).Code)
	})
}

// ---------------------------------------------------------------------------
// /process-video
// ---------------------------------------------------------------------------

func TestProcessVideo(t *testing.T) {
	t.Parallel()

	t.Run("subtitles mode burns the upload", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := fileUpload(t,
			map[string]string{"video": "clip.mp4", "subtitles": "clip.srt"},
			map[string]string{"mode": "subtitles"})
		req := authed(httptest.NewRequest(http.MethodPost, "/process-video", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, video.ModeSubtitles, f.videos.gotMode)
		assert.Contains(t, rec.Body.String(), "vid-1")
	})

	t.Run("zoom mode forwards the duration", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := fileUpload(t,
			map[string]string{"image": "still.png"},
			map[string]string{"mode": "zoom", "duration": "10"})
		req := authed(httptest.NewRequest(http.MethodPost, "/process-video", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		require.Equal(t, http.StatusOK, f.do(req).Code)
		assert.Equal(t, video.ModeZoom, f.videos.gotMode)
		assert.Equal(t, 10*time.Second, f.videos.gotDur)
	})

	t.Run("unknown mode is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := fileUpload(t, nil, map[string]string{"mode": "explode"})
		req := authed(httptest.NewRequest(http.MethodPost, "/process-video", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})

	t.Run("rejected zoom duration maps to 400", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.videos.err = fmt.Errorf("zoom duration 90s outside [1, 60]: %w", apierr.ErrValidation)
		body, ctype := fileUpload(t,
			map[string]string{"image": "still.png"},
			map[string]string{"mode": "zoom", "duration": "90"})
		req := authed(httptest.NewRequest(http.MethodPost, "/process-video", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})

	t.Run("errored uploads are cleaned from the temp root", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		body, ctype := fileUpload(t,
			map[string]string{"video": "clip.mp4"},
			map[string]string{"mode": "subtitles"})
		req := authed(httptest.NewRequest(http.MethodPost, "/process-video", body))
		req.Header.Set(echo.HeaderContentType, ctype)

		assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
	})
}
