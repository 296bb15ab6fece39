package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/observability"
)

func testAssets() []domain.Asset {
	created := time.Date(2026, 10, 1, 4, 30, 0, 0, time.UTC)
	return []domain.Asset{
		{Location: "https://cdn.example.test/v/kinematics.mp4", Name: "Kinematics L1", Kind: domain.AssetKindVideo, Subject: "Physics", Topic: "Kinematics", CreatedAt: &created},
		{Location: "https://cdn.example.test/d/kinematics.pdf", Name: "Kinematics Notes", Kind: domain.AssetKindDocument, Subject: "Physics", Topic: "Kinematics"},
		{Location: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Name: "Revision", Kind: domain.AssetKindVideo, Subject: "Maths", Topic: "Algebra"},
	}
}

func documentAssets(n int) []domain.Asset {
	assets := make([]domain.Asset, 0, n)
	for i := 1; i <= n; i++ {
		assets = append(assets, domain.Asset{
			Location: fmt.Sprintf("https://cdn.example.test/d/%02d.pdf", i),
			Name:     fmt.Sprintf("Sheet %02d", i),
			Kind:     domain.AssetKindDocument,
			Subject:  "Chemistry",
		})
	}
	return assets
}

func TestPipelineDeliverDeliversInOrderAndCompletes(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	batch := newTestBatch(t, "7", "101")

	result, err := f.pipeline.Deliver(context.Background(), batch, testAssets())
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if result.Delivered != 3 || result.Videos != 2 || result.PDFs != 1 || result.Failed != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 3 delivered (2 videos, 1 pdf)", result)
	}
	if result.State.Status != domain.DeliveryStatusCompleted || result.State.Progress != domain.CompletedMarker {
		t.Fatalf("state = %+v, want COMPLETED", result.State)
	}

	var order []string
	for _, s := range f.messenger.sent {
		switch s.Method {
		case "sendVideo", "sendDocument", "sendLinkCard":
			order = append(order, s.Method)
		}
	}
	want := []string{"sendVideo", "sendDocument", "sendLinkCard"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("delivery order = %v, want %v", order, want)
	}

	video := f.messenger.calls("sendVideo")[0]
	if !strings.Contains(video.Caption, "Uploaded:</b> 01-10-2026 10:00:00") {
		t.Fatalf("video caption = %q, want upload date in IST", video.Caption)
	}
	doc := f.messenger.calls("sendDocument")[0]
	if !strings.Contains(doc.Caption, "Uploaded:</b> unknown") {
		t.Fatalf("document caption = %q, want unknown upload date", doc.Caption)
	}

	if n, _ := f.ledger.CountByCourse(context.Background(), "101"); n != 3 {
		t.Fatalf("ledger rows = %d, want 3", n)
	}
	if got := len(f.messenger.callsTo("copyMessage", testArchiveChat)); got != 3 {
		t.Fatalf("archive copies = %d, want 3", got)
	}
	if got := len(f.archives.messages); got != 3 {
		t.Fatalf("archived messages = %d, want 3", got)
	}

	topics := f.messenger.calls("createForumTopic")
	if len(topics) != 2 || topics[0].Ref != "Physics" || topics[1].Ref != "Maths" {
		t.Fatalf("created topics = %+v, want Physics then Maths", topics)
	}

	summary := f.messenger.calls("sendMessage")
	if len(summary) != 1 || !strings.Contains(summary[0].Caption, "Delivered: 3 (PDFs: 1, Videos: 2)") {
		t.Fatalf("summary = %+v", summary)
	}

	if len(f.states.history) != 4 {
		t.Fatalf("state writes = %d, want 3 checkpoints and completion", len(f.states.history))
	}
	if got := f.states.history[1].Progress; got != "Processing: 2/3 | PDFs: 1 | Videos: 1" {
		t.Fatalf("second checkpoint = %q", got)
	}

	if left := f.fetcher.leftovers(t); len(left) != 0 {
		t.Fatalf("temporary files left behind: %v", left)
	}
}

func TestPipelineDeliverIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	batch := newTestBatch(t, "7", "101")
	assets := testAssets()

	if _, err := f.pipeline.Deliver(context.Background(), batch, assets); err != nil {
		t.Fatalf("first Deliver() error = %v", err)
	}
	sentBefore := len(f.messenger.sent)
	fetchesBefore := f.fetcher.total()
	writesBefore := len(f.states.history)

	result, err := f.pipeline.Deliver(context.Background(), batch, assets)
	if err != nil {
		t.Fatalf("second Deliver() error = %v", err)
	}

	if result.Skipped != len(assets) || result.Delivered != 0 {
		t.Fatalf("second result = %+v, want everything skipped", result)
	}
	if f.fetcher.total() != fetchesBefore {
		t.Fatalf("second run fetched %d more files", f.fetcher.total()-fetchesBefore)
	}
	for _, s := range f.messenger.sent[sentBefore:] {
		if s.Method != "sendMessage" {
			t.Fatalf("second run sent %s, want only the summary", s.Method)
		}
	}
	if result.State.Status != domain.DeliveryStatusCompleted {
		t.Fatalf("state = %s, want COMPLETED", result.State.Status)
	}

	stored, ok := f.states.state(batch.Key())
	if !ok || stored.PDFCount != 1 || stored.VideoCount != 2 {
		t.Fatalf("stored state = %+v, want counters unchanged (pdf=1, video=2)", stored)
	}

	writes := f.states.history[writesBefore:]
	if len(writes) != len(assets)+1 {
		t.Fatalf("state writes = %d, want one checkpoint per skipped asset and completion", len(writes))
	}
	if got := writes[0].Progress; got != "Processing: 1/3 | PDFs: 1 | Videos: 2" {
		t.Fatalf("first checkpoint = %q", got)
	}
}

func TestPipelineDeliverAddsToStoredCounters(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	batch := newTestBatch(t, "7", "101")
	assets := testAssets()

	f.ledger.seed("101", assets[0].Location, assets[1].Location)
	partial := domain.NewProgressState(batch.Key(), 2, 3, 1, 1)
	if err := f.states.Upsert(context.Background(), &partial); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	result, err := f.pipeline.Deliver(context.Background(), batch, assets)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if result.Delivered != 1 || result.Skipped != 2 || result.Videos != 1 {
		t.Fatalf("result = %+v, want 1 video delivered and 2 skipped", result)
	}

	stored, _ := f.states.state(batch.Key())
	if stored.Status != domain.DeliveryStatusCompleted || stored.PDFCount != 1 || stored.VideoCount != 2 {
		t.Fatalf("stored state = %+v, want COMPLETED with pdf=1, video=2", stored)
	}

	summary := f.messenger.calls("sendMessage")
	if len(summary) != 1 || !strings.Contains(summary[0].Caption, "Delivered: 1 (PDFs: 0, Videos: 1)") {
		t.Fatalf("summary = %+v, want this run's counts", summary)
	}
}

func TestPipelineDeliverShortCircuitsThroughArchive(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	first := newTestBatch(t, "7", "101")
	second := newTestBatch(t, "8", "202")
	assets := testAssets()[:2]

	if _, err := f.pipeline.Deliver(context.Background(), first, assets); err != nil {
		t.Fatalf("Deliver(first) error = %v", err)
	}

	result, err := f.pipeline.Deliver(context.Background(), second, assets)
	if err != nil {
		t.Fatalf("Deliver(second) error = %v", err)
	}
	if result.Delivered != 2 {
		t.Fatalf("second batch delivered = %d, want 2", result.Delivered)
	}

	for _, a := range assets {
		if got := f.fetcher.count(a.Location); got != 1 {
			t.Fatalf("fetches of %s = %d, want 1", a.Location, got)
		}
	}

	copies := f.messenger.callsTo("copyMessage", second.Destination)
	if len(copies) != 2 {
		t.Fatalf("archive copies into second destination = %d, want 2", len(copies))
	}
	for _, c := range copies {
		if c.FromChat != testArchiveChat {
			t.Fatalf("copy source = %s, want archive chat", c.FromChat)
		}
	}

	entry := f.ledger.entries[ledgerKey("202", assets[0].Location)]
	if entry.ArchiveMessageID == nil {
		t.Fatal("ledger entry of a copied asset should reference the archive message")
	}
	if got := len(f.messenger.callsTo("copyMessage", testArchiveChat)); got != 2 {
		t.Fatalf("archive copies = %d, want 2 from the first batch only", got)
	}
}

func TestPipelineDeliverRetriesOnceAfterRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		limitedCalls  int
		wantDelivered int
		wantFailed    int
	}{
		{name: "recovers after one back-off", limitedCalls: 1, wantDelivered: 1},
		{name: "gives up after second back-off", limitedCalls: 2, wantFailed: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newPipelineFixture(t)
			calls := 0
			f.messenger.sendDocumentFn = func(ctx context.Context, chat string, path string, caption string, thread int64) (int64, error) {
				calls++
				if calls <= tc.limitedCalls {
					return 0, &messenger.RateLimitedError{Method: "sendDocument", RetryAfter: 3 * time.Second}
				}
				return 77, nil
			}

			result, err := f.pipeline.Deliver(context.Background(), newTestBatch(t, "7", "101"), documentAssets(1))
			if err != nil {
				t.Fatalf("Deliver() error = %v", err)
			}
			if result.Delivered != tc.wantDelivered || result.Failed != tc.wantFailed {
				t.Fatalf("result = %+v, want delivered=%d failed=%d", result, tc.wantDelivered, tc.wantFailed)
			}
			if calls != 2 {
				t.Fatalf("send attempts = %d, want 2", calls)
			}
			if len(f.sleeps) != 1 || f.sleeps[0] != 3*time.Second {
				t.Fatalf("sleeps = %v, want exactly [3s]", f.sleeps)
			}
			if left := f.fetcher.leftovers(t); len(left) != 0 {
				t.Fatalf("temporary files left behind: %v", left)
			}
		})
	}
}

func TestPipelineDeliverFallsBackWhenTopicsAreForbidden(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	attempts := 0
	f.messenger.createTopicFn = func(ctx context.Context, chat string, name string) (int64, error) {
		attempts++
		return 0, &messenger.PermissionError{Method: "createForumTopic", Message: "not enough rights"}
	}

	result, err := f.pipeline.Deliver(context.Background(), newTestBatch(t, "7", "101"), testAssets())
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if result.Delivered != 3 {
		t.Fatalf("delivered = %d, want 3", result.Delivered)
	}
	if attempts != 1 {
		t.Fatalf("topic creation attempts = %d, want 1", attempts)
	}
	for _, s := range f.messenger.sent {
		if s.Thread != 0 {
			t.Fatalf("%s used thread %d, want 0", s.Method, s.Thread)
		}
	}
}

func TestPipelineDeliverReusesStoredTopic(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	batch := newTestBatch(t, "7", "101")
	_ = f.topics.Save(context.Background(), &domain.TopicChannel{Destination: batch.Destination, Subject: "Chemistry", ThreadID: 55})

	if _, err := f.pipeline.Deliver(context.Background(), batch, documentAssets(2)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got := len(f.messenger.calls("createForumTopic")); got != 0 {
		t.Fatalf("topics created = %d, want 0", got)
	}
	for _, s := range f.messenger.calls("sendDocument") {
		if s.Thread != 55 {
			t.Fatalf("document thread = %d, want 55", s.Thread)
		}
	}
}

func TestPipelineDeliverContinuesPastFailedAsset(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	assets := documentAssets(3)
	f.fetcher.errFor[assets[1].Location] = errors.New("404 from cdn")

	metrics := observability.NewMetrics()
	f.pipeline.SetMetrics(metrics)

	result, err := f.pipeline.Deliver(context.Background(), newTestBatch(t, "7", "101"), assets)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if result.Delivered != 2 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 2 delivered and 1 failed", result)
	}
	if ok, _ := f.ledger.Exists(context.Background(), "101", assets[1].Location); ok {
		t.Fatal("failed asset must not be recorded")
	}

	body := scrapeMetrics(t, metrics)
	for _, want := range []string{
		`relay_assets_failed_total{kind="document",reason="permanent"} 1`,
		`relay_assets_delivered_total{kind="document",path="upload"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestPipelineDeliverStopsOnCancellation(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.messenger.sendDocumentFn = func(c context.Context, chat string, path string, caption string, thread int64) (int64, error) {
		cancel()
		return 0, c.Err()
	}

	batch := newTestBatch(t, "7", "101")
	_, err := f.pipeline.Deliver(ctx, batch, documentAssets(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Deliver() error = %v, want context.Canceled", err)
	}

	if state, ok := f.states.state(batch.Key()); ok && state.Status.IsTerminal() {
		t.Fatalf("state = %s, want non-terminal after cancellation", state.Status)
	}
	if f.fetcher.total() != 1 {
		t.Fatalf("fetches = %d, want 1", f.fetcher.total())
	}
	if left := f.fetcher.leftovers(t); len(left) != 0 {
		t.Fatalf("temporary files left behind: %v", left)
	}
}

func TestPipelineDeliverUploadsVideoWithThumbnail(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	batch := newTestBatch(t, "7", "101")
	batch.Thumbnail = "https://img.example.test/cover.jpg"

	var got messenger.VideoUpload
	f.messenger.sendVideoFn = func(ctx context.Context, chat string, video messenger.VideoUpload, thread int64) (int64, error) {
		got = video
		return 11, nil
	}

	if _, err := f.pipeline.Deliver(context.Background(), batch, testAssets()[:1]); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got.Duration != 95*time.Second {
		t.Fatalf("duration = %s, want 95s", got.Duration)
	}
	if got.ThumbnailPath == "" {
		t.Fatal("thumbnail path should be set")
	}
	if len(f.thumbs.sources) != 1 || f.thumbs.sources[0] != batch.Thumbnail {
		t.Fatalf("thumbnail sources = %v, want batch thumbnail", f.thumbs.sources)
	}
	if left := f.fetcher.leftovers(t); len(left) != 0 {
		t.Fatalf("temporary files left behind: %v", left)
	}
}

func TestPipelineDeliverLedgerErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t)
	f.ledger.existsErr = errors.New("database is down")

	result, err := f.pipeline.Deliver(context.Background(), newTestBatch(t, "7", "101"), documentAssets(2))
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if result.Failed != 2 || result.Delivered != 0 {
		t.Fatalf("result = %+v, want 2 failed", result)
	}
	if f.fetcher.total() != 0 {
		t.Fatal("nothing should be fetched when the ledger is unavailable")
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "rate limited", err: &messenger.RateLimitedError{RetryAfter: time.Second}, want: "rate_limited"},
		{name: "permission", err: &messenger.PermissionError{Message: "forbidden"}, want: "permission"},
		{name: "unresolvable", err: fmt.Errorf("wrap: %w", domain.ErrUnresolvable), want: "unresolvable"},
		{name: "transient", err: &messenger.DeliveryError{StatusCode: 502, Transient: true}, want: "transient"},
		{name: "permanent", err: errors.New("boom"), want: "permanent"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := failureReason(tc.err); got != tc.want {
				t.Fatalf("failureReason() = %q, want %q", got, tc.want)
			}
		})
	}
}

func scrapeMetrics(t *testing.T, metrics *observability.Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(body)
}
