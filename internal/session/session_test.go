package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/annotree/internal/annotate"
	"github.com/mohammad-safakhou/annotree/internal/artifact"
	"github.com/mohammad-safakhou/annotree/internal/convert"
	"github.com/mohammad-safakhou/annotree/internal/lock"
	"github.com/mohammad-safakhou/annotree/internal/runtime"
	"github.com/mohammad-safakhou/annotree/internal/tree"
)

const docURL = "http://docs.example/files/contract.v3.pdf"

const layoutDump = `<pages>
  <page id="1" bbox="0.000,0.000,600.000,800.000" rotate="0">
    <textbox id="0" bbox="100.000,700.000,160.000,712.000">
      <textline bbox="100.000,700.000,160.000,712.000">
        <text bbox="100.000,700.000,110.000,712.000">T</text>
        <text bbox="110.000,700.000,120.000,712.000">e</text>
        <text bbox="120.000,700.000,130.000,712.000">r</text>
        <text bbox="130.000,700.000,140.000,712.000">m</text>
        <text bbox="140.000,700.000,150.000,712.000">!!</text>
        <text> </text>
      </textline>
    </textbox>
  </page>
  <page id="2" bbox="0.000,0.000,600.000,800.000" rotate="0">
    <figure bbox="0.000,0.000,10.000,10.000"/>
  </page>
</pages>`

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	body, ok := f.docs[rawURL]
	if !ok {
		return nil, fmt.Errorf("fetch %s: 404 Not Found", rawURL)
	}
	return []byte(body), nil
}

type flakyConverter struct {
	fail bool
}

func (c *flakyConverter) Convert(ctx context.Context, path string) (*tree.Node, error) {
	if c.fail {
		return nil, errors.New("converter crashed")
	}
	return convert.XML{}.Convert(ctx, path)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	m     *Manager
	store *artifact.Store
	conv  *flakyConverter
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := artifact.NewStore(filepath.Join(dir, "result-file"), filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conv := &flakyConverter{}
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(Options{
		Fetcher:   &fakeFetcher{docs: map[string]string{docURL: layoutDump}},
		Converter: conv,
		Store:     store,
		Metrics:   runtime.NewMetrics(),
		Logger:    log.New(io.Discard, "", 0),
		TTL:       time.Minute,
		Now:       c.Now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })
	return &fixture{m: m, store: store, conv: conv, clock: c}
}

func highlight(label string, x1, x2 float64) annotate.Annotation {
	return annotate.Annotation{
		Page:     1,
		Type:     annotate.TypeHighlight,
		Label:    label,
		Geometry: annotate.AreaRect{X: x1, Y: 800 - 712, Width: x2 - x1, Height: 12},
	}
}

func tmpFiles(t *testing.T, s *artifact.Store) []string {
	t.Helper()
	entries, err := os.ReadDir(s.TmpDir)
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessWritesMergedArtifact(t *testing.T) {
	f := newFixture(t)
	payload := fmt.Sprintf(`[{"documentId": %q, "pageNumber": 1, "annotations": [
		{"type": "highlight", "label": "term", "rectangles": [{"x": 110, "y": 88, "width": 20, "height": 12}]},
		{"type": "area", "entity": "term", "x": 130, "y": 88, "width": 10, "height": 12},
		{"type": "area", "entity": "nothing", "x": 400, "y": 400, "width": 5, "height": 5}
	]}, {"documentId": %q, "pageNumber": 2, "annotations": [
		{"type": "area", "label": "blank", "x": 0, "y": 0, "width": 600, "height": 800}
	]}]`, docURL, docURL)
	var batch annotate.Batch
	if err := json.Unmarshal([]byte(payload), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, err := f.m.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Path != filepath.Join(f.store.ResultDir, "contract.xml") {
		t.Fatalf("unexpected result path %s", res.Path)
	}
	if res.Wrapped != 3 || len(res.Applied) != 4 {
		t.Fatalf("unexpected report: wrapped=%d applied=%d", res.Wrapped, len(res.Applied))
	}

	out, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	root, err := tree.Decode(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	var tags []*tree.Node
	root.Walk(func(n *tree.Node) bool {
		if annotate.IsTag(n) {
			tags = append(tags, n)
		}
		return true
	})
	if len(tags) != 1 {
		t.Fatalf("expected one merged tag, got %d", len(tags))
	}
	if bbox, _ := tags[0].Attr(tree.BBoxAttr); bbox != "110.000,700.000,140.000,712.000" {
		t.Fatalf("merged bbox = %s", bbox)
	}
	if len(tags[0].Children) != 3 {
		t.Fatalf("merged tag should hold e, r, m; got %d children", len(tags[0].Children))
	}
	if strings.Contains(string(out), "!!") {
		t.Fatalf("pruned leaf leaked into the artifact")
	}
	if names := tmpFiles(t, f.store); len(names) != 0 {
		t.Fatalf("transient files left behind: %v", names)
	}
	if f.m.Len() != 0 {
		t.Fatalf("session still registered after finalize")
	}
	if _, err := f.m.Open(context.Background(), docURL); err != nil {
		t.Fatalf("document should be free after finalize: %v", err)
	}
}

func TestProcessRejectsMalformedBatchBeforeOpening(t *testing.T) {
	f := newFixture(t)
	batch := annotate.Batch{{DocumentID: docURL, PageNumber: 1, Annotations: []annotate.Record{
		{Type: "area", Label: "x"},
	}}}
	_, err := f.m.Process(context.Background(), batch)
	var mf annotate.MissingFieldError
	if !errors.As(err, &mf) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
	if f.m.Len() != 0 {
		t.Fatalf("no session should have been opened")
	}
	if _, err := os.Stat(f.store.ResultPath(docURL)); !os.IsNotExist(err) {
		t.Fatalf("no artifact should exist")
	}
}

func TestProcessAbandonsOnUnknownPage(t *testing.T) {
	f := newFixture(t)
	batch := annotate.Batch{{DocumentID: docURL, PageNumber: 9, Annotations: []annotate.Record{
		{Type: "area", Label: "x", X: ptr(1), Y: ptr(1), Width: ptr(1), Height: ptr(1)},
	}}}
	_, err := f.m.Process(context.Background(), batch)
	if !errors.Is(err, annotate.ErrUnknownPage) {
		t.Fatalf("expected ErrUnknownPage, got %v", err)
	}
	if f.m.Len() != 0 || len(tmpFiles(t, f.store)) != 0 {
		t.Fatalf("failed batch must leave no session and no transient files")
	}
	if _, err := os.Stat(f.store.ResultPath(docURL)); !os.IsNotExist(err) {
		t.Fatalf("failed batch must not publish an artifact")
	}
}

func ptr(v float64) *float64 { return &v }

func TestOpenIsExclusivePerDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.m.Open(ctx, docURL); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := f.m.Open(ctx, "http://docs.example/other.pdf"); err != nil {
		t.Fatalf("other documents are independent: %v", err)
	}
	if err := s.Abandon(ctx); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if s.State() != StateAbandoned {
		t.Fatalf("state = %s", s.State())
	}
	if _, err := f.m.Open(ctx, docURL); err != nil {
		t.Fatalf("Open after Abandon: %v", err)
	}
	if _, err := f.m.Open(ctx, "  "); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
}

func TestLoadIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.conv.fail = true
	if err := s.Load(ctx, docURL); err == nil {
		t.Fatalf("expected conversion failure")
	}
	if s.State() != StateEmpty {
		t.Fatalf("failed load changed state to %s", s.State())
	}
	if names := tmpFiles(t, f.store); len(names) != 0 {
		t.Fatalf("failed load left transient files: %v", names)
	}
	if err := s.Load(ctx, "http://docs.example/missing.pdf"); err == nil {
		t.Fatalf("expected fetch failure")
	}

	f.conv.fail = false
	if err := s.Load(ctx, docURL); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.State() != StateLoaded {
		t.Fatalf("state = %s", s.State())
	}
	if err := s.Load(ctx, docURL); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second load should be rejected, got %v", err)
	}
}

func TestLoadWithNothingRetainableFails(t *testing.T) {
	f := newFixture(t)
	f.m.fetcher = &fakeFetcher{docs: map[string]string{docURL: `<pages>
  <page id="1" bbox="0,0,10,10" rotate="0"><textline bbox="0,0,10,10"><text bbox="0,0,1,1">a1</text></textline></page>
</pages>`}}
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Load(ctx, docURL); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
	if s.State() != StateEmpty {
		t.Fatalf("state = %s", s.State())
	}
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Submit(ctx, highlight("term", 110, 130)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("submit before load: %v", err)
	}
	if _, err := s.Finalize(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finalize before load: %v", err)
	}
	if err := s.Load(ctx, docURL); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ap, err := s.Submit(ctx, highlight("void", 400, 410))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ap.Covered != 0 || s.State() != StateAccumulating {
		t.Fatalf("empty coverage should be a no-op that still accumulates, got %+v in %s", ap, s.State())
	}
	if _, err := s.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if s.State() != StateFlushed {
		t.Fatalf("state = %s", s.State())
	}
	if _, err := s.Finalize(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second finalize: %v", err)
	}
	if err := s.Abandon(ctx); err != nil {
		t.Fatalf("abandon after finalize should be a no-op: %v", err)
	}
	if _, err := f.m.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalizeWriteFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Load(ctx, docURL); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Submit(ctx, highlight("term", 110, 130)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := os.RemoveAll(f.store.ResultDir); err != nil {
		t.Fatalf("remove result dir: %v", err)
	}
	if _, err := s.Finalize(ctx); err == nil {
		t.Fatalf("expected write failure")
	}
	if s.State() != StateAccumulating {
		t.Fatalf("failed finalize changed state to %s", s.State())
	}
	if err := os.MkdirAll(f.store.ResultDir, 0o755); err != nil {
		t.Fatalf("recreate result dir: %v", err)
	}
	res, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("retry Finalize: %v", err)
	}
	if res.Wrapped != 2 {
		t.Fatalf("wrapped = %d", res.Wrapped)
	}
}

func TestExpiredSessionIsAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Load(ctx, docURL); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	if _, err := s.Submit(ctx, highlight("term", 110, 130)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if s.State() != StateAbandoned {
		t.Fatalf("state = %s", s.State())
	}
	if names := tmpFiles(t, f.store); len(names) != 0 {
		t.Fatalf("expired session left transient files: %v", names)
	}
	if _, err := f.m.Open(ctx, docURL); err != nil {
		t.Fatalf("document should be free after expiry: %v", err)
	}
}

func TestSweepAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, err := f.m.Get(ctx, a.ID); err != nil || got != a {
		t.Fatalf("Get: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	b, err := f.m.Open(ctx, "http://docs.example/late.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.clock.Advance(45 * time.Second)
	if n := f.m.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep abandoned %d sessions, want 1", n)
	}
	if a.State() != StateAbandoned || b.State() != StateEmpty {
		t.Fatalf("unexpected states %s / %s", a.State(), b.State())
	}
	f.clock.Advance(time.Minute)
	if _, err := f.m.Get(ctx, b.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestConcurrentSubmitsAreSerialised(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Load(ctx, docURL); err != nil {
		t.Fatalf("Load: %v", err)
	}
	spans := [][2]float64{{100, 110}, {110, 120}, {120, 130}, {130, 140}}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		span := spans[i%len(spans)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Submit(ctx, highlight("term", span[0], span[1])); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()
	res, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.Wrapped != 4 {
		t.Fatalf("each leaf should be wrapped once, got %d", res.Wrapped)
	}
	out, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(out), "<Annotate "); n != 1 {
		t.Fatalf("expected a single merged tag, got %d", n)
	}
}

func TestGetIsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	owner := runtime.ContextWithSubject(context.Background(), "project-a")
	s, err := f.m.Open(owner, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Owner != "project-a" {
		t.Fatalf("owner = %q", s.Owner)
	}
	if got, err := f.m.Get(owner, s.ID); err != nil || got != s {
		t.Fatalf("owner Get: %v", err)
	}
	for _, ctx := range []context.Context{
		runtime.ContextWithSubject(context.Background(), "project-b"),
		context.Background(),
	} {
		if _, err := f.m.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("foreign Get: expected ErrNotFound, got %v", err)
		}
	}
	if s.State() != StateEmpty {
		t.Fatalf("foreign lookups must not touch the session, state = %s", s.State())
	}
}

func TestOpenLeasesByArtifactName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mirror := "http://mirror.example/archive/contract.pdf"
	if _, err := f.m.Open(ctx, mirror); !errors.Is(err, ErrBusy) {
		t.Fatalf("ids sharing contract.xml should exclude each other, got %v", err)
	}
	if err := s.Abandon(ctx); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := f.m.Open(ctx, mirror); err != nil {
		t.Fatalf("Open after Abandon: %v", err)
	}
}

type shortLocker struct {
	expires time.Time
}

func (l *shortLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error) {
	return &lock.Lease{Key: key, Token: "t", Expires: l.expires}, nil
}

func (l *shortLocker) Release(ctx context.Context, lease *lock.Lease) error { return nil }

func TestDeadlineFollowsLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if want := f.clock.Now().Add(time.Minute); !s.Deadline().Equal(want) {
		t.Fatalf("deadline = %v, want %v", s.Deadline(), want)
	}
	if err := s.Abandon(ctx); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	expires := f.clock.Now().Add(10 * time.Second)
	f.m.locker = &shortLocker{expires: expires}
	s, err = f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.Deadline().Equal(expires) {
		t.Fatalf("deadline = %v, want lease expiry %v", s.Deadline(), expires)
	}
	f.clock.Advance(10 * time.Second)
	if err := s.Load(ctx, docURL); !errors.Is(err, ErrExpired) {
		t.Fatalf("session must not outlive its lease, got %v", err)
	}
}

func TestJanitorAbandonsExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale, err := f.m.Open(ctx, docURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	live, err := f.m.Open(ctx, "http://docs.example/fresh.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	f.m.Start(5 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for stale.State() != StateAbandoned {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not abandon the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if live.State() != StateEmpty {
		t.Fatalf("janitor touched a live session: %s", live.State())
	}

	f.m.Stop(ctx)
	f.m.Stop(ctx)
	if live.State() != StateAbandoned || f.m.Len() != 0 {
		t.Fatalf("Stop should abandon every open session, state = %s, open = %d", live.State(), f.m.Len())
	}
}
