package audio

// Coverage Notes:
// - validateTransform is tested for the accuracy, duplication and corruption
//   guards, including the exact 2x case the duplication heuristic targets.
// - ProcessAudio is tested end-to-end with an injected FFmpeg runner; no
//   real binary is invoked.

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/ffmpeg"
)

func TestAtempoChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		factor float64
		want   string
	}{
		{"below single-stage max", 1.5, "atempo=1.500000"},
		{"at single-stage max", 2.0, "atempo=2.000000"},
		{"above single-stage max", 3.0, "atempo=2.0,atempo=1.500000"},
		{"just above max", 2.5, "atempo=2.0,atempo=1.250000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, atempoChain(tt.factor))
		})
	}
}

func TestValidateTransform(t *testing.T) {
	t.Parallel()

	const factor = 2.0
	original := time.Hour // expected accelerated: 30min

	tests := []struct {
		name    string
		actual  time.Duration
		size    int64
		wantErr bool
		wantMsg string
	}{
		{"exact", 30 * time.Minute, 1024, false, ""},
		{"within tolerance", 30*time.Minute + 80*time.Second, 1024, false, ""},
		{"drift beyond tolerance", 33 * time.Minute, 1024, true, "Duration mismatch"},
		{"duplicated source (2x)", time.Hour, 1024, true, "concatenated duplicates"},
		{"corrupted output", 10 * time.Minute, 1024, true, "corrupted"},
		{"empty file", 30 * time.Minute, 0, true, "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validateTransform(original, tt.actual, tt.size, factor)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apierr.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateTransformDuplicationMessageStillSaysMismatch(t *testing.T) {
	t.Parallel()

	// A source probed at 3600s whose accelerated output also probes 3600s
	// at factor 2.0 must fail with a duration mismatch.
	err := validateTransform(time.Hour, time.Hour, 1024, 2.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duration mismatch")
}

func TestSourceWarnings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration time.Duration
		want     int
	}{
		{"short source", 10 * time.Minute, 0},
		{"long source", 3 * time.Hour, 2}, // 3h is also a 30-minute multiple
		{"loop pattern", 60*time.Minute + 30*time.Second, 1},
		{"just past loop tolerance", 30*time.Minute + 2*time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Len(t, sourceWarnings(tt.duration), tt.want)
		})
	}
}

// fakeTransformRunner scripts FFmpeg behavior: probes report configured
// durations, the encode writes a file of the configured size.
type fakeTransformRunner struct {
	sourceDuration time.Duration
	outputDuration time.Duration
	outputSize     int
	encodeErr      error
}

func (f *fakeTransformRunner) run(_ context.Context, _ string, args []string) (string, error) {
	last := args[len(args)-1]
	if last == "-" {
		// Probe: report on whichever file is being probed.
		d := f.sourceDuration
		for _, a := range args {
			if strings.HasSuffix(a, acceleratedFileName) {
				d = f.outputDuration
			}
		}
		return "Duration: " + ffmpeg.FormatTime(d)[:11] + ", start: 0", errors.New("exit status 1")
	}
	// Encode: write the accelerated output.
	if f.encodeErr != nil {
		return "boom", f.encodeErr
	}
	if err := os.WriteFile(last, make([]byte, f.outputSize), 0o600); err != nil {
		return "", err
	}
	return "", nil
}

func TestProcessAudio(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		input := filepath.Join(dir, "input.mp3")
		require.NoError(t, os.WriteFile(input, make([]byte, 4096), 0o600))

		runner := &fakeTransformRunner{
			sourceDuration: 40 * time.Second,
			outputDuration: 20 * time.Second,
			outputSize:     2048,
		}
		tr, err := NewTransformer("ffmpeg",
			WithTransformerExecutor(ffmpeg.NewExecutor(ffmpeg.WithRunOutput(runner.run))))
		require.NoError(t, err)

		res, err := tr.ProcessAudio(context.Background(), input, dir, 2.0)
		require.NoError(t, err)
		assert.Equal(t, 40*time.Second, res.OriginalDuration)
		assert.Equal(t, 20*time.Second, res.AcceleratedDuration)
		assert.Equal(t, int64(4096), res.OriginalBytes)
		assert.Equal(t, filepath.Join(dir, acceleratedFileName), res.AcceleratedPath)
		assert.Empty(t, res.Warnings)
	})

	t.Run("duration mismatch fails the job", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		input := filepath.Join(dir, "input.mp3")
		require.NoError(t, os.WriteFile(input, make([]byte, 4096), 0o600))

		runner := &fakeTransformRunner{
			sourceDuration: time.Hour,
			outputDuration: time.Hour, // atempo had no effect
			outputSize:     2048,
		}
		tr, err := NewTransformer("ffmpeg",
			WithTransformerExecutor(ffmpeg.NewExecutor(ffmpeg.WithRunOutput(runner.run))))
		require.NoError(t, err)

		_, err = tr.ProcessAudio(context.Background(), input, dir, 2.0)
		require.Error(t, err)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		assert.Contains(t, err.Error(), "Duration mismatch")
	})

	t.Run("invalid factor rejected before any work", func(t *testing.T) {
		t.Parallel()

		tr, err := NewTransformer("ffmpeg")
		require.NoError(t, err)

		_, err = tr.ProcessAudio(context.Background(), "in.mp3", t.TempDir(), 4.0)
		assert.ErrorIs(t, err, ErrInvalidSpeedFactor)
	})

	t.Run("cancelled encode does not validate the torn output", func(t *testing.T) {
		t.Parallel()

		// A graceful stop finalizes the file and reports no error, so the
		// cancellation itself must end the transform before the probe.
		dir := t.TempDir()
		input := filepath.Join(dir, "input.mp3")
		require.NoError(t, os.WriteFile(input, make([]byte, 4096), 0o600))

		runner := &fakeTransformRunner{
			sourceDuration: 40 * time.Second,
			outputDuration: 20 * time.Second,
			outputSize:     2048,
		}
		tr, err := NewTransformer("ffmpeg",
			WithTransformerExecutor(ffmpeg.NewExecutor(ffmpeg.WithRunOutput(runner.run))))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = tr.ProcessAudio(ctx, input, dir, 2.0)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("encode failure surfaces transform error", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		input := filepath.Join(dir, "input.mp3")
		require.NoError(t, os.WriteFile(input, make([]byte, 64), 0o600))

		runner := &fakeTransformRunner{
			sourceDuration: 40 * time.Second,
			encodeErr:      errors.New("exit status 1"),
		}
		tr, err := NewTransformer("ffmpeg",
			WithTransformerExecutor(ffmpeg.NewExecutor(ffmpeg.WithRunOutput(runner.run))))
		require.NoError(t, err)

		_, err = tr.ProcessAudio(context.Background(), input, dir, 2.0)
		assert.ErrorIs(t, err, ErrTransformFailed)
	})
}
