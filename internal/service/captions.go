package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/kursadbilgin/course-relay/internal/domain"
)

const (
	captionDateLayout = "02-01-2006 15:04:05"
	defaultTopicName  = "General"
	unknownDate       = "unknown"
)

// assetCaption renders the HTML caption attached to a delivered asset.
func assetCaption(batch domain.Batch, asset domain.Asset, loc *time.Location) string {
	var b strings.Builder

	name := strings.TrimSpace(asset.Name)
	if name == "" {
		name = "Untitled"
	}
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(name))

	if batch.Name != "" {
		fmt.Fprintf(&b, "<b>Course:</b> %s\n", html.EscapeString(batch.Name))
	}
	if topic := strings.TrimSpace(asset.Topic); topic != "" {
		fmt.Fprintf(&b, "<b>Topic:</b> %s\n", html.EscapeString(topic))
	}
	fmt.Fprintf(&b, "<b>Uploaded:</b> %s", uploadDate(asset.CreatedAt, loc))

	if credit := strings.TrimSpace(batch.Credit); credit != "" {
		fmt.Fprintf(&b, "\n\n<i>%s</i>", html.EscapeString(credit))
	}
	return b.String()
}

func uploadDate(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return unknownDate
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(captionDateLayout)
}

func topicName(subject string) string {
	if trimmed := strings.TrimSpace(subject); trimmed != "" {
		return trimmed
	}
	return defaultTopicName
}

func completionSummary(batch domain.Batch, result RunResult) string {
	return fmt.Sprintf(
		"<b>%s</b>: delivery finished.\nDelivered: %d (PDFs: %d, Videos: %d)\nAlready delivered: %d\nFailed: %d",
		html.EscapeString(batchLabel(batch)),
		result.Delivered, result.PDFs, result.Videos, result.Skipped, result.Failed,
	)
}

// deltaMessage is the daily notification after a scheduled run.
func deltaMessage(batch domain.Batch, result RunResult) string {
	if result.PDFs == 0 && result.Videos == 0 {
		return fmt.Sprintf("<b>%s</b>: no new classes today.", html.EscapeString(batchLabel(batch)))
	}
	return fmt.Sprintf("<b>%s</b>: %d new PDFs, %d new videos.", html.EscapeString(batchLabel(batch)), result.PDFs, result.Videos)
}

func resumingMessage(batch domain.Batch, state domain.DeliveryState) string {
	progress := strings.TrimSpace(state.Progress)
	if progress == "" {
		progress = string(state.Status)
	}
	return fmt.Sprintf("<b>%s</b>: resuming interrupted delivery (%s).", html.EscapeString(batchLabel(batch)), html.EscapeString(progress))
}

func failureMessage(batch domain.Batch, reason string) string {
	return fmt.Sprintf("<b>%s</b>: delivery stopped. %s", html.EscapeString(batchLabel(batch)), html.EscapeString(reason))
}

func batchLabel(batch domain.Batch) string {
	if name := strings.TrimSpace(batch.Name); name != "" {
		return name
	}
	return "Course " + batch.CourseID
}
