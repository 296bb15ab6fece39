package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/linkresolver"
	"github.com/kursadbilgin/course-relay/internal/media"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/observability"
	"github.com/kursadbilgin/course-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	deliveryPathCopy   = "copy"
	deliveryPathUpload = "upload"
	deliveryPathLink   = "link"
)

// PipelineDeps groups the collaborators of a Pipeline.
type PipelineDeps struct {
	Ledger      repository.DeliveredAssetRepository
	Archives    repository.ArchiveRepository
	Topics      repository.TopicRepository
	States      repository.DeliveryStateRepository
	Messenger   messenger.Messenger
	Fetcher     Fetcher
	Prober      Prober
	Thumbnailer Thumbnailer
}

// Pipeline delivers assets one at a time, strictly in discovery order.
type Pipeline struct {
	ledger      repository.DeliveredAssetRepository
	archives    repository.ArchiveRepository
	topics      repository.TopicRepository
	states      repository.DeliveryStateRepository
	messenger   messenger.Messenger
	fetcher     Fetcher
	prober      Prober
	thumbnailer Thumbnailer
	archiveChat string
	loc         *time.Location
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewPipeline(deps PipelineDeps, archiveChat string, loc *time.Location, logger *zap.Logger) (*Pipeline, error) {
	if deps.Ledger == nil || deps.Archives == nil || deps.Topics == nil || deps.States == nil {
		return nil, fmt.Errorf("pipeline repositories are required")
	}
	if deps.Messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if deps.Fetcher == nil || deps.Prober == nil || deps.Thumbnailer == nil {
		return nil, fmt.Errorf("media collaborators are required")
	}
	if strings.TrimSpace(archiveChat) == "" {
		return nil, fmt.Errorf("archive chat is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		ledger:      deps.Ledger,
		archives:    deps.Archives,
		topics:      deps.Topics,
		states:      deps.States,
		messenger:   deps.Messenger,
		fetcher:     deps.Fetcher,
		prober:      deps.Prober,
		thumbnailer: deps.Thumbnailer,
		archiveChat: strings.TrimSpace(archiveChat),
		loc:         loc,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (p *Pipeline) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// runState is the per-run memo of resolved topic threads.
type runState struct {
	threads        map[string]int64
	topicsDisabled bool
}

// delivery is the outcome of sending one asset.
type delivery struct {
	messageID int64
	archiveID *int64
	path      string
}

// Deliver sends every asset not yet in the ledger and checkpoints progress after each one.
// Per-asset failures are counted and logged; only context cancellation stops the loop,
// leaving the state non-terminal.
func (p *Pipeline) Deliver(ctx context.Context, batch domain.Batch, assets []domain.Asset) (RunResult, error) {
	logger := observability.WithContextLogger(p.logger, ctx).With(
		zap.String("ownerId", batch.OwnerID),
		zap.String("courseId", batch.CourseID),
	)

	key := batch.Key()
	total := len(assets)
	result := RunResult{Discovered: total}
	run := &runState{threads: make(map[string]int64)}
	basePDFs, baseVideos := p.storedCounts(ctx, key, logger)

	checkpoint := func(processed int) {
		state := domain.NewProgressState(key, processed, total, basePDFs+result.PDFs, baseVideos+result.Videos)
		state.UpdatedAt = p.now().UTC()
		if err := p.states.Upsert(ctx, &state); err != nil {
			logger.Warn("progress checkpoint failed", zap.Error(err))
		}
	}

	for i, asset := range assets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		exists, err := p.ledger.Exists(ctx, batch.CourseID, asset.Location)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			p.metrics.IncAssetFailed(asset.Kind.String(), "ledger")
			logger.Error("ledger lookup failed, asset skipped", zap.String("asset", asset.Name), zap.Error(err))
			checkpoint(i + 1)
			continue
		}
		if exists {
			result.Skipped++
			p.metrics.IncAssetSkipped()
			checkpoint(i + 1)
			continue
		}

		start := p.now()
		thread := p.resolveThread(ctx, batch, asset.Subject, run, logger)
		sent, err := p.deliverAsset(ctx, batch, asset, thread, logger)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			p.metrics.IncAssetFailed(asset.Kind.String(), failureReason(err))
			logger.Error("asset delivery failed",
				zap.String("asset", asset.Name),
				zap.String("kind", asset.Kind.String()),
				zap.Error(err),
			)
		} else {
			p.record(ctx, batch, asset, sent, logger)
			result.Delivered++
			if asset.Kind == domain.AssetKindVideo {
				result.Videos++
			} else {
				result.PDFs++
			}
			p.metrics.IncAssetDelivered(asset.Kind.String(), sent.path)
			p.metrics.ObserveAssetDeliveryDuration(asset.Kind.String(), p.now().Sub(start))
		}

		checkpoint(i + 1)
	}

	state := domain.NewCompletedState(key, total, basePDFs+result.PDFs, baseVideos+result.Videos)
	state.UpdatedAt = p.now().UTC()
	if err := p.states.Upsert(ctx, &state); err != nil {
		return result, fmt.Errorf("failed to mark delivery completed: %w", err)
	}
	result.State = state

	if _, err := p.messenger.SendText(ctx, batch.Destination, completionSummary(batch, result), 0); err != nil {
		logger.Warn("completion summary not sent", zap.Error(err))
	}

	logger.Info("delivery finished",
		zap.Int("assets", total),
		zap.Int("delivered", result.Delivered),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// storedCounts returns the pdf and video totals already persisted for key. Counters in the
// delivery state accumulate across runs; a run that delivers nothing leaves them as they were.
func (p *Pipeline) storedCounts(ctx context.Context, key domain.BatchKey, logger *zap.Logger) (int, int) {
	prev, err := p.states.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("previous delivery state unavailable, counters start at zero", zap.Error(err))
		}
		return 0, 0
	}
	return prev.PDFCount, prev.VideoCount
}

// resolveThread returns the topic thread for subject, creating it on first use. Any failure
// degrades to thread 0; a permission failure disables topics for the rest of the run.
func (p *Pipeline) resolveThread(ctx context.Context, batch domain.Batch, subject string, run *runState, logger *zap.Logger) int64 {
	if run.topicsDisabled {
		return 0
	}

	name := topicName(subject)
	if thread, ok := run.threads[name]; ok {
		return thread
	}

	existing, err := p.topics.Get(ctx, batch.Destination, name)
	if err == nil && existing != nil {
		run.threads[name] = existing.ThreadID
		return existing.ThreadID
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("topic lookup failed", zap.String("topic", name), zap.Error(err))
		return 0
	}

	thread, err := p.withBackoff(ctx, func() (int64, error) {
		return p.messenger.CreateTopic(ctx, batch.Destination, name)
	})
	if err != nil {
		var permErr *messenger.PermissionError
		if errors.As(err, &permErr) {
			run.topicsDisabled = true
			logger.Info("topics unavailable in destination, delivering without grouping", zap.Error(err))
			return 0
		}
		logger.Warn("topic creation failed", zap.String("topic", name), zap.Error(err))
		return 0
	}

	run.threads[name] = thread
	if err := p.topics.Save(ctx, &domain.TopicChannel{
		Destination: batch.Destination,
		Subject:     name,
		ThreadID:    thread,
		CreatedAt:   p.now().UTC(),
	}); err != nil {
		logger.Warn("topic mapping not saved", zap.String("topic", name), zap.Error(err))
	}
	return thread
}

func (p *Pipeline) deliverAsset(ctx context.Context, batch domain.Batch, asset domain.Asset, thread int64, logger *zap.Logger) (delivery, error) {
	if sent, ok := p.copyFromArchive(ctx, batch, asset, thread, logger); ok {
		return sent, nil
	}

	caption := assetCaption(batch, asset, p.loc)

	if asset.Kind == domain.AssetKindVideo {
		if linkresolver.IsPublicVideoURL(asset.Location) {
			id, err := p.withBackoff(ctx, func() (int64, error) {
				return p.messenger.SendLinkCard(ctx, batch.Destination, []string{asset.Location}, caption, thread)
			})
			return delivery{messageID: id, path: deliveryPathLink}, err
		}
		return p.uploadVideo(ctx, batch, asset, caption, thread, logger)
	}

	path, err := p.fetcher.FetchDocument(ctx, asset.Location, asset.Name)
	if err != nil {
		return delivery{}, err
	}
	defer media.Remove(path)

	id, err := p.withBackoff(ctx, func() (int64, error) {
		return p.messenger.SendDocument(ctx, batch.Destination, path, caption, thread)
	})
	return delivery{messageID: id, path: deliveryPathUpload}, err
}

func (p *Pipeline) uploadVideo(ctx context.Context, batch domain.Batch, asset domain.Asset, caption string, thread int64, logger *zap.Logger) (delivery, error) {
	path, err := p.fetcher.FetchVideo(ctx, asset.Location, asset.Name)
	if err != nil {
		return delivery{}, err
	}
	defer media.Remove(path)

	duration, err := p.prober.Duration(ctx, path)
	if err != nil {
		logger.Warn("video duration unavailable", zap.String("asset", asset.Name), zap.Error(err))
	}

	thumbnail, err := p.thumbnailer.Generate(ctx, batch.Thumbnail, path)
	if err != nil {
		logger.Warn("thumbnail unavailable", zap.String("asset", asset.Name), zap.Error(err))
		thumbnail = ""
	}
	defer media.Remove(thumbnail)

	upload := messenger.VideoUpload{
		Path:          path,
		Caption:       caption,
		Duration:      duration,
		ThumbnailPath: thumbnail,
	}
	id, err := p.withBackoff(ctx, func() (int64, error) {
		return p.messenger.SendVideo(ctx, batch.Destination, upload, thread)
	})
	return delivery{messageID: id, path: deliveryPathUpload}, err
}

// copyFromArchive reuses an earlier upload of the same location. Any failure other than
// cancellation falls through to a full delivery.
func (p *Pipeline) copyFromArchive(ctx context.Context, batch domain.Batch, asset domain.Asset, thread int64, logger *zap.Logger) (delivery, bool) {
	archived, err := p.archives.Get(ctx, asset.Location)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("archive lookup failed", zap.String("asset", asset.Name), zap.Error(err))
		}
		return delivery{}, false
	}

	id, err := p.withBackoff(ctx, func() (int64, error) {
		return p.messenger.CopyMessage(ctx, p.archiveChat, archived.MessageID, batch.Destination, thread)
	})
	if err != nil {
		logger.Info("archive copy failed, uploading instead", zap.String("asset", asset.Name), zap.Error(err))
		return delivery{}, false
	}

	archiveID := archived.MessageID
	return delivery{messageID: id, archiveID: &archiveID, path: deliveryPathCopy}, true
}

// record writes the ledger entry first and then mirrors a fresh upload into the archive.
// Archive failures never undo a delivery.
func (p *Pipeline) record(ctx context.Context, batch domain.Batch, asset domain.Asset, sent delivery, logger *zap.Logger) {
	entry := &domain.DeliveredAsset{
		CourseID:         batch.CourseID,
		Location:         asset.Location,
		Destination:      batch.Destination,
		MessageID:        sent.messageID,
		ArchiveMessageID: sent.archiveID,
		Kind:             asset.Kind,
		DeliveredAt:      p.now().UTC(),
	}
	if err := p.ledger.Create(ctx, entry); err != nil {
		logger.Error("ledger write failed after delivery", zap.String("asset", asset.Name), zap.Error(err))
	}

	if sent.archiveID != nil || sent.messageID == 0 {
		return
	}

	archiveID, err := p.withBackoff(ctx, func() (int64, error) {
		return p.messenger.CopyMessage(ctx, batch.Destination, sent.messageID, p.archiveChat, 0)
	})
	if err != nil {
		logger.Warn("archive copy failed", zap.String("asset", asset.Name), zap.Error(err))
		return
	}

	if err := p.archives.Save(ctx, &domain.ArchivedMessage{
		Location:  asset.Location,
		MessageID: archiveID,
		CreatedAt: p.now().UTC(),
	}); err != nil {
		logger.Warn("archive mapping not saved", zap.String("asset", asset.Name), zap.Error(err))
	}
}

// withBackoff runs send and, when the destination answers with a back-off request, waits
// exactly the requested duration and tries once more.
func (p *Pipeline) withBackoff(ctx context.Context, send func() (int64, error)) (int64, error) {
	id, err := send()
	retryAfter, limited := messenger.RetryAfter(err)
	if !limited {
		return id, err
	}

	p.metrics.IncRateLimitWait()
	if err := p.sleep(ctx, retryAfter); err != nil {
		return 0, err
	}
	return send()
}

func failureReason(err error) string {
	var rateErr *messenger.RateLimitedError
	var permErr *messenger.PermissionError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &rateErr):
		return "rate_limited"
	case errors.As(err, &permErr):
		return "permission"
	case errors.Is(err, domain.ErrUnresolvable):
		return "unresolvable"
	case messenger.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
