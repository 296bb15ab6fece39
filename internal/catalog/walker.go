// Package catalog walks a remote course catalog and produces the flat, ordered asset list
// consumed by the delivery pipeline.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/linkresolver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 36
	subjectsPath       = "get/allsubjectfrmlivecourseclass"
	topicsPath         = "get/alltopicfrmlivecourseclass"
	leavesPath         = "get/livecourseclassbycoursesubtopconceptapiv3"
	videoDetailsPath   = "get/fetchVideoDetailsById"
)

// LinkResolver turns raw descriptors into fetchable locations.
type LinkResolver interface {
	Resolve(raw string, encrypted bool) (string, error)
}

// Source identifies the catalog of one batch.
type Source struct {
	CourseID   string
	APIBase    string
	Credential string
}

// SourceFromBatch extracts the catalog coordinates of b.
func SourceFromBatch(b domain.Batch) Source {
	return Source{CourseID: b.CourseID, APIBase: b.APIBase, Credential: b.Credential}
}

type Config struct {
	Concurrency    int
	MaxFolderNodes int
	Location       *time.Location
}

// Walker enumerates subjects, topics and leaf items of a course.
type Walker struct {
	client         *resty.Client
	resolver       LinkResolver
	concurrency    int
	maxFolderNodes int
	loc            *time.Location
	logger         *zap.Logger
}

func NewWalker(client *resty.Client, resolver LinkResolver, cfg Config, logger *zap.Logger) (*Walker, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("link resolver is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxFolderNodes <= 0 {
		cfg.MaxFolderNodes = defaultMaxFolderNodes
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Walker{
		client:         client,
		resolver:       resolver,
		concurrency:    cfg.Concurrency,
		maxFolderNodes: cfg.MaxFolderNodes,
		loc:            cfg.Location,
		logger:         logger,
	}, nil
}

type topicRef struct {
	subjectID   string
	subjectName string
	topicID     string
	topicName   string
}

// pendingLeaf is a raw leaf item with its lineage, waiting for classification.
type pendingLeaf struct {
	raw     item
	subject string
	topic   string
}

// Walk materializes every asset of the course in discovery order. The folder-shaped API is
// consulted only when the subject/topic shape yields no assets.
func (w *Walker) Walk(ctx context.Context, src Source) ([]domain.Asset, error) {
	creds, err := ParseCredentials(src.Credential)
	if err != nil {
		return nil, err
	}

	logger := w.logger.With(zap.String("courseId", src.CourseID))

	assets, primaryErr := w.walkSubjects(ctx, creds, src, logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(assets) > 0 {
		logger.Info("catalog walk finished", zap.String("shape", "subjects"), zap.Int("assets", len(assets)))
		return assets, nil
	}

	assets, fallbackErr := w.walkFolders(ctx, creds, src, logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if primaryErr != nil && fallbackErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCatalogUnreachable, errors.Join(primaryErr, fallbackErr))
	}
	// A failed subject listing is only masked by a fallback that actually found something.
	if primaryErr != nil && len(assets) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrCatalogUnreachable, primaryErr)
	}

	logger.Info("catalog walk finished", zap.String("shape", "folders"), zap.Int("assets", len(assets)))
	return assets, nil
}

func (w *Walker) walkSubjects(ctx context.Context, creds Credentials, src Source, logger *zap.Logger) ([]domain.Asset, error) {
	subjects, err := w.getList(ctx, creds, src.APIBase, subjectsPath, map[string]string{
		"courseid": src.CourseID,
		"start":    "-1",
	})
	if err != nil {
		logger.Warn("subject listing failed", zap.Error(err))
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, nil
	}

	topicsBySubject := make([][]topicRef, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, subject := range subjects {
		subjectID := subject.str("subjectid", "id", "_id")
		subjectName := subject.str("subject_name", "name", "title")
		if subjectID == "" {
			logger.Warn("subject without id skipped", zap.String("subject", subjectName))
			continue
		}

		g.Go(func() error {
			topics, err := w.listTopics(gctx, creds, src, subjectID, subjectName)
			if err != nil {
				logger.Warn("topic listing failed",
					zap.String("subjectId", subjectID),
					zap.Error(err),
				)
				return nil
			}
			topicsBySubject[i] = topics
			return nil
		})
	}
	_ = g.Wait()

	var refs []topicRef
	for _, topics := range topicsBySubject {
		refs = append(refs, topics...)
	}

	leavesByTopic := make([][]pendingLeaf, len(refs))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			leaves, err := w.getList(gctx, creds, src.APIBase, leavesPath, map[string]string{
				"courseid":  src.CourseID,
				"subjectid": ref.subjectID,
				"topicid":   ref.topicID,
				"conceptid": "",
				"start":     "-1",
			})
			if err != nil {
				logger.Warn("leaf listing failed",
					zap.String("subjectId", ref.subjectID),
					zap.String("topicId", ref.topicID),
					zap.Error(err),
				)
				return nil
			}

			pending := make([]pendingLeaf, 0, len(leaves))
			for _, leaf := range leaves {
				pending = append(pending, pendingLeaf{raw: leaf, subject: ref.subjectName, topic: ref.topicName})
			}
			leavesByTopic[i] = pending
			return nil
		})
	}
	_ = g.Wait()

	var pending []pendingLeaf
	for _, leaves := range leavesByTopic {
		pending = append(pending, leaves...)
	}

	return w.resolveLeaves(ctx, creds, src, pending, logger), nil
}

func (w *Walker) listTopics(ctx context.Context, creds Credentials, src Source, subjectID string, subjectName string) ([]topicRef, error) {
	topics, err := w.getList(ctx, creds, src.APIBase, topicsPath, map[string]string{
		"courseid":  src.CourseID,
		"subjectid": subjectID,
		"start":     "-1",
	})
	if err != nil {
		return nil, err
	}

	refs := make([]topicRef, 0, len(topics))
	for _, topic := range topics {
		topicID := topic.str("topicid", "id", "_id")
		if topicID == "" {
			continue
		}
		refs = append(refs, topicRef{
			subjectID:   subjectID,
			subjectName: subjectName,
			topicID:     topicID,
			topicName:   topic.str("topic_name", "name", "title"),
		})
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return lessTopicID(refs[i].topicID, refs[j].topicID)
	})
	return refs, nil
}

// lessTopicID orders numerically when both ids are numbers, lexically otherwise.
func lessTopicID(a string, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

// resolveLeaves classifies every pending leaf with bounded concurrency and keeps the input
// order in the result. Leaves that fail to resolve are logged and dropped.
func (w *Walker) resolveLeaves(ctx context.Context, creds Credentials, src Source, pending []pendingLeaf, logger *zap.Logger) []domain.Asset {
	slots := make([]*domain.Asset, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, leaf := range pending {
		g.Go(func() error {
			asset, err := w.classifyLeaf(gctx, creds, src, leaf)
			if err != nil {
				logger.Warn("catalog item skipped",
					zap.String("subject", leaf.subject),
					zap.String("topic", leaf.topic),
					zap.String("item", leaf.raw.str("Title", "title", "name")),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = asset
			return nil
		})
	}
	_ = g.Wait()

	assets := make([]domain.Asset, 0, len(slots))
	for _, asset := range slots {
		if asset != nil {
			assets = append(assets, *asset)
		}
	}
	return assets
}

func leafKind(m item) string {
	return strings.ToUpper(m.str("material_type", "contentType", "content_type", "folder_wise_course", "type"))
}

func (w *Walker) classifyLeaf(ctx context.Context, creds Credentials, src Source, leaf pendingLeaf) (*domain.Asset, error) {
	asset := &domain.Asset{
		Name:      leaf.raw.str("Title", "title", "topic_name", "name", "file_name"),
		Subject:   leaf.subject,
		Topic:     leaf.topic,
		CreatedAt: leaf.raw.timestamp(w.loc),
	}

	switch leafKind(leaf.raw) {
	case "FOLDER":
		return nil, fmt.Errorf("%w: unexpected folder in leaf listing", domain.ErrUnresolvable)
	case "VIDEO":
		location, err := w.videoLocation(ctx, creds, src, leaf.raw)
		if err != nil {
			return nil, err
		}
		asset.Kind = domain.AssetKindVideo
		asset.Location = location
	default:
		link := leaf.raw.str("pdf_link", "file_link", "fileUrl", "url", "link")
		if link == "" {
			return nil, fmt.Errorf("%w: document has no link", domain.ErrUnresolvable)
		}
		encrypted := leaf.raw.flag("_encrypted", "is_encrypted", "encrypted", "is_pdf_encrypted")
		location, err := w.resolver.Resolve(link, encrypted)
		if err != nil {
			return nil, err
		}
		asset.Kind = domain.AssetKindDocument
		asset.Location = location
	}

	return asset, nil
}

var videoLinkKeys = []string{"download_link", "video_player_url", "videoUrl", "url", "link", "file_link"}

// videoLocation performs the secondary lookup for a video item. The leaf's own link fields
// are used when the detail lookup fails.
func (w *Walker) videoLocation(ctx context.Context, creds Credentials, src Source, leaf item) (string, error) {
	videoID := leaf.str("id", "_id", "video_id")

	var details item
	var lookupErr error
	if videoID != "" {
		details, lookupErr = w.getObject(ctx, creds, src.APIBase, videoDetailsPath, map[string]string{
			"course_id":          src.CourseID,
			"video_id":           videoID,
			"ytflag":             "0",
			"folder_wise_course": "0",
		})
	}

	if lookupErr == nil && details != nil {
		if location, err := w.locationFromVideoFields(details); err == nil {
			return location, nil
		} else if !errors.Is(err, errNoVideoLink) {
			return "", err
		}
	}

	location, err := w.locationFromVideoFields(leaf)
	if err == nil {
		return location, nil
	}
	if lookupErr != nil {
		return "", fmt.Errorf("video details lookup failed: %w", lookupErr)
	}
	return "", fmt.Errorf("%w: video %q has no playable link", domain.ErrUnresolvable, videoID)
}

var errNoVideoLink = errors.New("no video link")

func (w *Walker) locationFromVideoFields(m item) (string, error) {
	for _, key := range videoLinkKeys {
		if link := m.str(key); link != "" && linkresolver.IsPublicVideoURL(link) {
			return link, nil
		}
	}

	for _, entry := range m.list("encrypted_links") {
		if path := entry.str("path", "url", "link"); path != "" {
			return w.resolver.Resolve(path, true)
		}
	}

	link := m.str(videoLinkKeys...)
	if link == "" {
		return "", errNoVideoLink
	}
	encrypted := m.flag("_encrypted", "is_encrypted", "encrypted") || m.str("encryption_key", "key", "keyLink") != ""
	return w.resolver.Resolve(link, encrypted)
}
