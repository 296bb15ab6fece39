package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/course-relay/internal/catalog"
	"github.com/kursadbilgin/course-relay/internal/domain"
	"github.com/kursadbilgin/course-relay/internal/messenger"
	"github.com/kursadbilgin/course-relay/internal/queue"
)

func newTestCredential(t *testing.T) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "42"})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func newTestBatch(t *testing.T, ownerID string, courseID string) domain.Batch {
	t.Helper()

	return domain.Batch{
		ID:          "batch-" + ownerID + "-" + courseID,
		OwnerID:     ownerID,
		CourseID:    courseID,
		APIBase:     "https://api.example.test",
		Credential:  newTestCredential(t),
		Name:        "Physics Crash Course",
		Destination: "-100" + courseID,
		Credit:      "via course-relay",
	}
}

type memBatchRepo struct {
	mu       sync.Mutex
	batches  map[domain.BatchKey]domain.Batch
	getErr   error
	createFn func(b *domain.Batch) error
}

func newMemBatchRepo(batches ...domain.Batch) *memBatchRepo {
	repo := &memBatchRepo{batches: make(map[domain.BatchKey]domain.Batch)}
	for _, b := range batches {
		repo.batches[b.Key()] = b
	}
	return repo
}

func (r *memBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if r.createFn != nil {
		return r.createFn(b)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.Key()]; ok {
		return domain.ErrConflict
	}
	r.batches[b.Key()] = *b
	return nil
}

func (r *memBatchRepo) GetByKey(ctx context.Context, key domain.BatchKey) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	b, ok := r.batches[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (r *memBatchRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Batch
	for _, b := range r.batches {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

func (r *memBatchRepo) ListScheduled(ctx context.Context) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Batch
	for _, b := range r.batches {
		if b.IsScheduled() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memBatchRepo) CountByCourse(ctx context.Context, courseID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, b := range r.batches {
		if b.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

func (r *memBatchRepo) UpdateSchedule(ctx context.Context, key domain.BatchKey, scheduleTime *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[key]
	if !ok {
		return domain.ErrNotFound
	}
	b.ScheduleTime = scheduleTime
	r.batches[key] = b
	return nil
}

func (r *memBatchRepo) UpdateItemCount(ctx context.Context, key domain.BatchKey, itemCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[key]
	if !ok {
		return domain.ErrNotFound
	}
	b.ItemCount = itemCount
	r.batches[key] = b
	return nil
}

func (r *memBatchRepo) Delete(ctx context.Context, key domain.BatchKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[key]; !ok {
		return domain.ErrNotFound
	}
	delete(r.batches, key)
	return nil
}

type memStateRepo struct {
	mu      sync.Mutex
	states  map[domain.BatchKey]domain.DeliveryState
	history []domain.DeliveryState
}

func newMemStateRepo(states ...domain.DeliveryState) *memStateRepo {
	repo := &memStateRepo{states: make(map[domain.BatchKey]domain.DeliveryState)}
	for _, s := range states {
		repo.states[s.Key()] = s
	}
	return repo
}

func (r *memStateRepo) Upsert(ctx context.Context, s *domain.DeliveryState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[s.Key()] = *s
	r.history = append(r.history, *s)
	return nil
}

func (r *memStateRepo) Get(ctx context.Context, key domain.BatchKey) (*domain.DeliveryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *memStateRepo) ListIncomplete(ctx context.Context) ([]domain.DeliveryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DeliveryState
	for _, s := range r.states {
		if !s.Status.IsTerminal() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

func (r *memStateRepo) Delete(ctx context.Context, key domain.BatchKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, key)
	return nil
}

func (r *memStateRepo) state(key domain.BatchKey) (domain.DeliveryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	return s, ok
}

type memLedger struct {
	mu        sync.Mutex
	entries   map[string]domain.DeliveredAsset
	existsErr error
}

func newMemLedger() *memLedger {
	return &memLedger{entries: make(map[string]domain.DeliveredAsset)}
}

func ledgerKey(courseID string, location string) string {
	return courseID + "|" + location
}

func (l *memLedger) Exists(ctx context.Context, courseID string, location string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.existsErr != nil {
		return false, l.existsErr
	}
	_, ok := l.entries[ledgerKey(courseID, location)]
	return ok, nil
}

func (l *memLedger) Create(ctx context.Context, a *domain.DeliveredAsset) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(a.CourseID, a.Location)
	if _, ok := l.entries[k]; !ok {
		l.entries[k] = *a
	}
	return nil
}

func (l *memLedger) CountByCourse(ctx context.Context, courseID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, e := range l.entries {
		if e.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) DeleteByCourse(ctx context.Context, courseID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if e.CourseID == courseID {
			delete(l.entries, k)
		}
	}
	return nil
}

func (l *memLedger) seed(courseID string, locations ...string) {
	for _, loc := range locations {
		_ = l.Create(context.Background(), &domain.DeliveredAsset{
			CourseID: courseID,
			Location: loc,
			Kind:     domain.AssetKindDocument,
		})
	}
}

type memArchiveRepo struct {
	mu       sync.Mutex
	messages map[string]domain.ArchivedMessage
}

func newMemArchiveRepo() *memArchiveRepo {
	return &memArchiveRepo{messages: make(map[string]domain.ArchivedMessage)}
}

func (r *memArchiveRepo) Get(ctx context.Context, location string) (*domain.ArchivedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[location]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r *memArchiveRepo) Save(ctx context.Context, m *domain.ArchivedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.Location] = *m
	return nil
}

type memTopicRepo struct {
	mu     sync.Mutex
	topics map[string]domain.TopicChannel
}

func newMemTopicRepo() *memTopicRepo {
	return &memTopicRepo{topics: make(map[string]domain.TopicChannel)}
}

func (r *memTopicRepo) Get(ctx context.Context, destination string, subject string) (*domain.TopicChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[destination+"|"+subject]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *memTopicRepo) Save(ctx context.Context, t *domain.TopicChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[t.Destination+"|"+t.Subject] = *t
	return nil
}

// sentMessage is one call observed by fakeMessenger.
type sentMessage struct {
	Method   string
	Chat     string
	FromChat string
	Ref      string
	Caption  string
	Thread   int64
	ID       int64
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int64
	sent   []sentMessage

	sendDocumentFn func(ctx context.Context, chat string, path string, caption string, thread int64) (int64, error)
	sendVideoFn    func(ctx context.Context, chat string, video messenger.VideoUpload, thread int64) (int64, error)
	copyMessageFn  func(ctx context.Context, fromChat string, messageID int64, toChat string, thread int64) (int64, error)
	createTopicFn  func(ctx context.Context, chat string, name string) (int64, error)
	sendTextFn     func(ctx context.Context, chat string, text string, thread int64) (int64, error)
}

func (m *fakeMessenger) record(msg sentMessage) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if msg.ID == 0 {
		msg.ID = m.nextID
	}
	m.sent = append(m.sent, msg)
	return msg.ID
}

func (m *fakeMessenger) SendDocument(ctx context.Context, chat string, path string, caption string, thread int64) (int64, error) {
	if m.sendDocumentFn != nil {
		id, err := m.sendDocumentFn(ctx, chat, path, caption, thread)
		if err != nil {
			return 0, err
		}
		return m.record(sentMessage{Method: "sendDocument", Chat: chat, Ref: path, Caption: caption, Thread: thread, ID: id}), nil
	}
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("document missing: %w", err)
	}
	return m.record(sentMessage{Method: "sendDocument", Chat: chat, Ref: path, Caption: caption, Thread: thread}), nil
}

func (m *fakeMessenger) SendVideo(ctx context.Context, chat string, video messenger.VideoUpload, thread int64) (int64, error) {
	if m.sendVideoFn != nil {
		id, err := m.sendVideoFn(ctx, chat, video, thread)
		if err != nil {
			return 0, err
		}
		return m.record(sentMessage{Method: "sendVideo", Chat: chat, Ref: video.Path, Caption: video.Caption, Thread: thread, ID: id}), nil
	}
	return m.record(sentMessage{Method: "sendVideo", Chat: chat, Ref: video.Path, Caption: video.Caption, Thread: thread}), nil
}

func (m *fakeMessenger) SendLinkCard(ctx context.Context, chat string, urls []string, caption string, thread int64) (int64, error) {
	ref := ""
	if len(urls) > 0 {
		ref = urls[0]
	}
	return m.record(sentMessage{Method: "sendLinkCard", Chat: chat, Ref: ref, Caption: caption, Thread: thread}), nil
}

func (m *fakeMessenger) SendText(ctx context.Context, chat string, text string, thread int64) (int64, error) {
	if m.sendTextFn != nil {
		return m.sendTextFn(ctx, chat, text, thread)
	}
	return m.record(sentMessage{Method: "sendMessage", Chat: chat, Caption: text, Thread: thread}), nil
}

func (m *fakeMessenger) CopyMessage(ctx context.Context, fromChat string, messageID int64, toChat string, thread int64) (int64, error) {
	if m.copyMessageFn != nil {
		id, err := m.copyMessageFn(ctx, fromChat, messageID, toChat, thread)
		if err != nil {
			return 0, err
		}
		return m.record(sentMessage{Method: "copyMessage", Chat: toChat, FromChat: fromChat, Ref: fmt.Sprint(messageID), Thread: thread, ID: id}), nil
	}
	return m.record(sentMessage{Method: "copyMessage", Chat: toChat, FromChat: fromChat, Ref: fmt.Sprint(messageID), Thread: thread}), nil
}

func (m *fakeMessenger) CreateTopic(ctx context.Context, chat string, name string) (int64, error) {
	if m.createTopicFn != nil {
		id, err := m.createTopicFn(ctx, chat, name)
		if err != nil {
			return 0, err
		}
		m.record(sentMessage{Method: "createForumTopic", Chat: chat, Ref: name, ID: id})
		return id, nil
	}
	return m.record(sentMessage{Method: "createForumTopic", Chat: chat, Ref: name}), nil
}

func (m *fakeMessenger) calls(method string) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, s := range m.sent {
		if s.Method == method {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMessenger) callsTo(method string, chat string) []sentMessage {
	var out []sentMessage
	for _, s := range m.calls(method) {
		if s.Chat == chat {
			out = append(out, s)
		}
	}
	return out
}

// fakeFetcher writes one small file per fetch and remembers every path it produced.
type fakeFetcher struct {
	dir string

	mu      sync.Mutex
	fetches map[string]int
	paths   []string
	errFor  map[string]error
}

func newFakeFetcher(t *testing.T) *fakeFetcher {
	t.Helper()
	return &fakeFetcher{dir: t.TempDir(), fetches: make(map[string]int), errFor: make(map[string]error)}
}

func (f *fakeFetcher) fetch(location string, name string, ext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches[location]++
	if err := f.errFor[location]; err != nil {
		return "", err
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s-%d%s", name, len(f.paths), ext))
	if err := os.WriteFile(path, []byte(location), 0o600); err != nil {
		return "", err
	}
	f.paths = append(f.paths, path)
	return path, nil
}

func (f *fakeFetcher) FetchVideo(ctx context.Context, location string, name string) (string, error) {
	return f.fetch(location, name, ".mkv")
}

func (f *fakeFetcher) FetchDocument(ctx context.Context, location string, name string) (string, error) {
	return f.fetch(location, name, ".pdf")
}

func (f *fakeFetcher) count(location string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[location]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		n += c
	}
	return n
}

func (f *fakeFetcher) leftovers(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type fakeProber struct {
	duration time.Duration
	err      error
}

func (p *fakeProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return p.duration, p.err
}

type fakeThumbnailer struct {
	dir string
	err error

	mu      sync.Mutex
	sources []string
}

func (f *fakeThumbnailer) Generate(ctx context.Context, source string, videoPath string) (string, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	path := videoPath + ".thumb.jpg"
	if f.dir != "" {
		path = filepath.Join(f.dir, filepath.Base(path))
	}
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

type fakeWalker struct {
	walkFn func(ctx context.Context, src catalog.Source) ([]domain.Asset, error)
}

func (f *fakeWalker) Walk(ctx context.Context, src catalog.Source) ([]domain.Asset, error) {
	if f.walkFn != nil {
		return f.walkFn(ctx, src)
	}
	return nil, nil
}

type launchCall struct {
	Key     domain.BatchKey
	Trigger domain.RunTrigger
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launchCall
	launchFn func(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (string, error)
}

func (f *fakeLauncher) Launch(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (string, error) {
	f.mu.Lock()
	f.launches = append(f.launches, launchCall{Key: batch.Key(), Trigger: trigger})
	f.mu.Unlock()

	if f.launchFn != nil {
		return f.launchFn(ctx, batch, trigger)
	}
	return "run-" + batch.CourseID, nil
}

func (f *fakeLauncher) calls() []launchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launchCall(nil), f.launches...)
}

type fakeScheduleController struct {
	mu        sync.Mutex
	scheduled []domain.Batch
	canceled  []domain.BatchKey
}

func (f *fakeScheduleController) Schedule(batch domain.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, batch)
	return nil
}

func (f *fakeScheduleController) Cancel(key domain.BatchKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, key)
}

type fakeRunExecutor struct {
	runFn func(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (RunResult, error)
}

func (f *fakeRunExecutor) Run(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (RunResult, error) {
	if f.runFn != nil {
		return f.runFn(ctx, batch, trigger)
	}
	return RunResult{}, nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

// pipelineFixture wires a Pipeline to in-memory collaborators.
type pipelineFixture struct {
	pipeline  *Pipeline
	ledger    *memLedger
	archives  *memArchiveRepo
	topics    *memTopicRepo
	states    *memStateRepo
	messenger *fakeMessenger
	fetcher   *fakeFetcher
	thumbs    *fakeThumbnailer
	sleeps    []time.Duration
}

const testArchiveChat = "-100999"

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	fetcher := newFakeFetcher(t)
	f := &pipelineFixture{
		ledger:    newMemLedger(),
		archives:  newMemArchiveRepo(),
		topics:    newMemTopicRepo(),
		states:    newMemStateRepo(),
		messenger: &fakeMessenger{},
		fetcher:   fetcher,
		thumbs:    &fakeThumbnailer{dir: fetcher.dir},
	}

	loc := time.FixedZone("IST", 5*3600+1800)
	p, err := NewPipeline(PipelineDeps{
		Ledger:      f.ledger,
		Archives:    f.archives,
		Topics:      f.topics,
		States:      f.states,
		Messenger:   f.messenger,
		Fetcher:     f.fetcher,
		Prober:      &fakeProber{duration: 95 * time.Second},
		Thumbnailer: f.thumbs,
	}, testArchiveChat, loc, nil)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	p.now = func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.pipeline = p
	return f
}
