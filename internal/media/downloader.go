package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"
)

const (
	defaultDocumentTimeout = 10 * time.Minute
	defaultDocumentExt     = ".pdf"
	videoMergeFormat       = "mkv"
)

// videoFetchFunc downloads url into a file whose name starts with base inside dir.
type videoFetchFunc func(ctx context.Context, url string, dir string, base string) (string, error)

// Downloader stores remote media under a per-process work directory.
type Downloader struct {
	client     *resty.Client
	workDir    string
	fetchVideo videoFetchFunc
	logger     *zap.Logger
}

func NewDownloader(workDir string, client *resty.Client, logger *zap.Logger) (*Downloader, error) {
	trimmed := strings.TrimSpace(workDir)
	if trimmed == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Downloader{
		client:     client,
		workDir:    trimmed,
		fetchVideo: fetchWithYTDLP,
		logger:     logger,
	}, nil
}

// FetchVideo downloads a video with yt-dlp and returns the produced file path.
func (d *Downloader) FetchVideo(ctx context.Context, location string, name string) (string, error) {
	base := uniqueBase(name)

	path, err := d.fetchVideo(ctx, location, d.workDir, base)
	if err != nil {
		removeMatching(d.workDir, base)
		return "", fmt.Errorf("video download failed: %w", err)
	}

	d.logger.Debug("video downloaded", zap.String("path", path))
	return path, nil
}

// FetchDocument streams a document to disk. A non-2xx response leaves no file behind.
func (d *Downloader) FetchDocument(ctx context.Context, location string, name string) (string, error) {
	target := filepath.Join(d.workDir, uniqueBase(name)+documentExt(location))

	resp, err := d.client.R().
		SetContext(ctx).
		SetOutput(target).
		Get(location)
	if err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("document download failed: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		_ = os.Remove(target)
		return "", fmt.Errorf("document download failed: status %d", resp.StatusCode())
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("document download failed: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(target)
		return "", errors.New("document download failed: empty body")
	}

	return target, nil
}

// Remove deletes temporary files, ignoring empty paths and files that are already gone.
func Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}

func fetchWithYTDLP(ctx context.Context, location string, dir string, base string) (string, error) {
	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		MergeOutputFormat(videoMergeFormat).
		Output(filepath.Join(dir, base+".%(ext)s"))

	result, err := dl.Run(ctx, location)
	if err != nil {
		return "", err
	}

	if result != nil {
		if info, err := result.GetExtractedInfo(); err == nil && len(info) > 0 && info[0].Filename != nil {
			if _, statErr := os.Stat(*info[0].Filename); statErr == nil {
				return *info[0].Filename, nil
			}
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("yt-dlp produced no file for %s", base)
	}
	return matches[0], nil
}

func uniqueBase(name string) string {
	safe := SanitizeFileName(name)
	safe = strings.NewReplacer(" ", "_", "[", "", "]", "").Replace(safe)
	if runes := []rune(safe); len(runes) > 80 {
		safe = string(runes[:80])
	}
	return safe + "-" + uuid.NewString()[:8]
}

func documentExt(location string) string {
	parsed, err := url.Parse(location)
	if err != nil {
		return defaultDocumentExt
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if ext == "" || len(ext) > 6 {
		return defaultDocumentExt
	}
	return ext
}

func removeMatching(dir string, base string) {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return
	}
	Remove(matches...)
}
