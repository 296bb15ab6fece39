// Package messenger delivers files and messages to chat destinations.
package messenger

import (
	"context"
	"time"
)

// Messenger is the outbound delivery port used by the pipeline. Chat identifiers are
// numeric ids or public usernames; thread 0 means no topic.
type Messenger interface {
	SendDocument(ctx context.Context, chat string, path string, caption string, thread int64) (int64, error)
	SendVideo(ctx context.Context, chat string, video VideoUpload, thread int64) (int64, error)
	SendLinkCard(ctx context.Context, chat string, urls []string, caption string, thread int64) (int64, error)
	SendText(ctx context.Context, chat string, text string, thread int64) (int64, error)
	CopyMessage(ctx context.Context, fromChat string, messageID int64, toChat string, thread int64) (int64, error)
	CreateTopic(ctx context.Context, chat string, name string) (int64, error)
}

// VideoUpload describes a local video file and its presentation metadata.
type VideoUpload struct {
	Path          string
	Caption       string
	Duration      time.Duration
	ThumbnailPath string
}
