// Package ffmpeg locates and executes the FFmpeg binary used for all
// media transforms: tempo change, chunk extraction, silence detection,
// subtitle burn-in and image-to-video rendering.
package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
)

// Environment variable for a custom ffmpeg path.
const envFFmpegPath = "FFMPEG_PATH"

// envProvider abstracts environment and path lookup operations.
type envProvider interface {
	Getenv(key string) string
	LookPath(file string) (string, error)
}

// osEnvProvider implements envProvider using os and exec packages.
type osEnvProvider struct{}

func (osEnvProvider) Getenv(key string) string { return os.Getenv(key) }

func (osEnvProvider) LookPath(file string) (string, error) { return exec.LookPath(file) }

// Compile-time interface verification.
var _ envProvider = osEnvProvider{}

// Resolve returns the path to the FFmpeg binary.
// FFMPEG_PATH takes precedence; otherwise PATH is searched.
func Resolve() (string, error) {
	return resolve(osEnvProvider{})
}

func resolve(env envProvider) (string, error) {
	if p := env.Getenv(envFFmpegPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s=%q: %v: %w", envFFmpegPath, p, err, ErrNotFound)
		}
		return p, nil
	}

	p, err := env.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not in PATH (set %s to override): %w", envFFmpegPath, ErrNotFound)
	}
	return p, nil
}
