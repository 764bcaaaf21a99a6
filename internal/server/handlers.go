package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/config"
	"github.com/alnah/mediaforge/internal/imagegen"
	"github.com/alnah/mediaforge/internal/job"
	"github.com/alnah/mediaforge/internal/lang"
	"github.com/alnah/mediaforge/internal/video"
)

// outputFormats are the renditions /transcribe can return.
var outputFormats = map[string]bool{"json": true, "srt": true, "txt": true}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Lookup(c.Param("id")))
}

// handleTranscribe admits the job, stores the upload and drives the
// pipeline. The response body is the requested rendition.
func (s *Server) handleTranscribe(c echo.Context) error {
	if !s.jobs.TryAcquire(1) {
		return s.errJSON(c, http.StatusServiceUnavailable, "server at capacity, try again later")
	}
	defer s.jobs.Release(1)

	fh, err := c.FormFile("audio")
	if err != nil {
		return s.errJSON(c, http.StatusBadRequest, "multipart field 'audio' is required")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	if !s.cfg.FormatAllowed(ext) {
		return s.errJSON(c, http.StatusBadRequest,
			fmt.Sprintf("unsupported audio format %q", ext))
	}
	if fh.Size > s.cfg.MaxFileSizeBytes() {
		return s.errJSON(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d MB limit", s.cfg.MaxFileSizeMB))
	}

	speed := s.cfg.SpeedFactor
	if v := c.FormValue("speed"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s.errJSON(c, http.StatusBadRequest, "speed must be a number")
		}
		speed = config.ClampSpeed(parsed)
	}

	outFormat := c.FormValue("format")
	if outFormat == "" {
		outFormat = "json"
	}
	if !outputFormats[outFormat] {
		return s.errJSON(c, http.StatusBadRequest, "format must be json, srt or txt")
	}

	language := c.FormValue("language")
	if err := lang.Validate(language); err != nil {
		return s.errJSON(c, http.StatusBadRequest, err.Error())
	}

	upload, err := s.saveUpload(fh, ext)
	if err != nil {
		s.log.Error("upload store failed", "error", err, "request_id", requestID(c))
		return s.errJSON(c, http.StatusInternalServerError, "could not store upload")
	}
	defer func() { _ = os.Remove(upload) }()

	j := job.New(fh.Filename, speed, outFormat, lang.Base(language))
	res, err := s.runner.Run(c.Request().Context(), j, upload)
	if err != nil {
		return s.jobError(c, j, err)
	}

	switch outFormat {
	case "srt":
		return c.Blob(http.StatusOK, "application/x-subrip", []byte(res.SRT))
	case "txt":
		return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(res.PlainText))
	default:
		return c.JSON(http.StatusOK, res)
	}
}

// jobError maps pipeline failures onto the HTTP taxonomy: media guard
// failures are 422, everything else is a 5xx with the correlation id.
func (s *Server) jobError(c echo.Context, j *job.Job, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, apierr.ErrValidation) {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, echo.Map{
		"error":     err.Error(),
		"jobId":     j.ID,
		"requestId": requestID(c),
	})
}

func (s *Server) handleGenerateImage(c echo.Context) error {
	var req imagegen.Request
	if err := c.Bind(&req); err != nil {
		return s.errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	res, err := s.images.Generate(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apierr.ErrValidation):
			return s.errJSON(c, http.StatusBadRequest, err.Error())
		case apierr.IsFatal(err):
			return s.errJSON(c, http.StatusBadGateway, err.Error())
		default:
			return s.errJSON(c, http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleProcessVideo(c echo.Context) error {
	var (
		res *video.Result
		err error
	)

	switch c.FormValue("mode") {
	case video.ModeSubtitles:
		videoPath, verr := s.formUpload(c, "video")
		if verr != nil {
			return s.errJSON(c, http.StatusBadRequest, "multipart field 'video' is required")
		}
		defer func() { _ = os.Remove(videoPath) }()
		srtPath, serr := s.formUpload(c, "subtitles")
		if serr != nil {
			return s.errJSON(c, http.StatusBadRequest, "multipart field 'subtitles' is required")
		}
		defer func() { _ = os.Remove(srtPath) }()
		res, err = s.videos.BurnSubtitles(c.Request().Context(), videoPath, srtPath)

	case video.ModeZoom:
		imagePath, ierr := s.formUpload(c, "image")
		if ierr != nil {
			return s.errJSON(c, http.StatusBadRequest, "multipart field 'image' is required")
		}
		defer func() { _ = os.Remove(imagePath) }()

		var duration time.Duration
		if v := c.FormValue("duration"); v != "" {
			seconds, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				return s.errJSON(c, http.StatusBadRequest, "duration must be seconds")
			}
			duration = time.Duration(seconds * float64(time.Second))
		}
		res, err = s.videos.Zoom(c.Request().Context(), imagePath, duration)

	default:
		return s.errJSON(c, http.StatusBadRequest, "mode must be subtitles or zoom")
	}

	if err != nil {
		if errors.Is(err, apierr.ErrValidation) {
			return s.errJSON(c, http.StatusBadRequest, err.Error())
		}
		s.log.Error("video processing failed", "error", err, "request_id", requestID(c))
		return s.errJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// formUpload stores a multipart file under the temp root and returns its path.
func (s *Server) formUpload(c echo.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", err
	}
	return s.saveUpload(fh, strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
}

// saveUpload copies a multipart file into the temp root.
func (s *Server) saveUpload(fh *multipart.FileHeader, ext string) (string, error) {
	if err := os.MkdirAll(s.cfg.TempDir, 0o750); err != nil { // #nosec G301 -- server working dir
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()

	pattern := "upload_*"
	if ext != "" {
		pattern += "." + ext
	}
	dst, err := os.CreateTemp(s.cfg.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return dst.Name(), nil
}

// errJSON writes a uniform error body with the correlation id.
func (s *Server) errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"error": msg, "requestId": requestID(c)})
}
