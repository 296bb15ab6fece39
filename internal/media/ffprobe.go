package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const defaultFFProbeBinary = "ffprobe"

// FFProbe reads container metadata with the ffprobe binary.
type FFProbe struct {
	binary string
	run    commandRunner
}

func NewFFProbe(binary string) *FFProbe {
	if strings.TrimSpace(binary) == "" {
		binary = defaultFFProbeBinary
	}
	return &FFProbe{binary: binary, run: runCommand}
}

// Duration returns the container duration of the media file at path.
func (p *FFProbe) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := p.run(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(out))
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe duration %q: %w", raw, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("negative ffprobe duration %q", raw)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
