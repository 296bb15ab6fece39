package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/go-resty/resty/v2"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

const (
	defaultFFmpegBinary = "ffmpeg"
	maxThumbnailSide    = 320
	minWatermarkFont    = 12.0
	watermarkFontRatio  = 0.05
	thumbnailQuality    = 85
)

// Thumbnailer produces a small watermarked JPEG cover for a video upload.
type Thumbnailer struct {
	client  *resty.Client
	workDir string
	ffmpeg  string
	text    string
	run     commandRunner
	logger  *zap.Logger

	fontOnce sync.Once
	font     *truetype.Font
	fontErr  error
}

func NewThumbnailer(workDir string, ffmpegBinary string, watermark string, client *resty.Client, logger *zap.Logger) (*Thumbnailer, error) {
	trimmed := strings.TrimSpace(workDir)
	if trimmed == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = defaultFFmpegBinary
	}
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Thumbnailer{
		client:  client,
		workDir: trimmed,
		ffmpeg:  ffmpegBinary,
		text:    strings.TrimSpace(watermark),
		run:     runCommand,
		logger:  logger,
	}, nil
}

// Generate builds the cover from source, which may be an http(s) URL or a local file. An
// empty source falls back to the frame at one second of videoPath. The caller owns the
// returned file.
func (t *Thumbnailer) Generate(ctx context.Context, source string, videoPath string) (string, error) {
	img, err := t.loadSource(ctx, strings.TrimSpace(source), videoPath)
	if err != nil {
		return "", err
	}

	out := filepath.Join(t.workDir, "thumb-"+uuid.NewString()+".jpg")
	if err := gg.SaveJPG(out, t.Watermark(Fit(img, maxThumbnailSide)), thumbnailQuality); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return out, nil
}

func (t *Thumbnailer) loadSource(ctx context.Context, source string, videoPath string) (image.Image, error) {
	switch {
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		resp, err := t.client.R().SetContext(ctx).Get(source)
		if err != nil {
			return nil, fmt.Errorf("thumbnail download failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("thumbnail download failed: status %d", resp.StatusCode())
		}
		return decodeImage(resp.Body())
	case source != "":
		raw, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("thumbnail read failed: %w", err)
		}
		return decodeImage(raw)
	case videoPath != "":
		return t.extractFrame(ctx, videoPath)
	}
	return nil, fmt.Errorf("no thumbnail source")
}

func (t *Thumbnailer) extractFrame(ctx context.Context, videoPath string) (image.Image, error) {
	frame := filepath.Join(t.workDir, "frame-"+uuid.NewString()+".jpg")
	defer Remove(frame)

	// Clips shorter than the seek offset have no frame at 1s.
	var lastErr error
	for _, offset := range []string{"1", "0"} {
		_, err := t.run(ctx, t.ffmpeg, "-y", "-loglevel", "error", "-ss", offset, "-i", videoPath, "-frames:v", "1", "-q:v", "2", frame)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := os.ReadFile(frame)
		if err != nil {
			lastErr = err
			continue
		}
		return decodeImage(raw)
	}
	return nil, fmt.Errorf("frame extraction failed: %w", lastErr)
}

// Watermark draws the configured text in the bottom-left corner with a drop shadow.
func (t *Thumbnailer) Watermark(img image.Image) image.Image {
	if t.text == "" {
		return img
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	size := math.Max(float64(height)*watermarkFontRatio, minWatermarkFont)

	face, err := t.face(size)
	if err != nil {
		t.logger.Warn("watermark font unavailable", zap.Error(err))
		return img
	}

	dc := gg.NewContext(width, height)
	dc.DrawImage(img, 0, 0)
	dc.SetFontFace(face)

	margin := size / 2
	x := margin
	y := float64(height) - margin

	dc.SetColor(color.NRGBA{A: 180})
	dc.DrawString(t.text, x+1, y+1)
	dc.SetColor(color.White)
	dc.DrawString(t.text, x, y)

	return dc.Image()
}

func (t *Thumbnailer) face(size float64) (font.Face, error) {
	t.fontOnce.Do(func() {
		t.font, t.fontErr = truetype.Parse(gobold.TTF)
	})
	if t.fontErr != nil {
		return nil, t.fontErr
	}
	return truetype.NewFace(t.font, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// Fit scales img down so that neither side exceeds maxSide. Smaller images are returned as is.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}

	scale := float64(maxSide) / float64(max(w, h))
	dw := max(1, int(math.Round(float64(w)*scale)))
	dh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func decodeImage(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
