package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/annotree/internal/annotate"
	"github.com/mohammad-safakhou/annotree/internal/artifact"
	"github.com/mohammad-safakhou/annotree/internal/convert"
	"github.com/mohammad-safakhou/annotree/internal/fetch"
	"github.com/mohammad-safakhou/annotree/internal/lock"
	"github.com/mohammad-safakhou/annotree/internal/runtime"
)

const DefaultTTL = 15 * time.Minute

// Options wires a Manager. Fetcher, Converter and Store are required.
type Options struct {
	Fetcher   fetch.Fetcher
	Converter convert.Converter
	Store     *artifact.Store
	Locator   annotate.Locator
	Locker    lock.Locker
	Metrics   *runtime.Metrics
	Logger    *log.Logger
	TTL       time.Duration
	Debug     bool
	// Now is the manager's clock. It also drives the default in-process
	// locker so session deadlines and lease expiry agree.
	Now func() time.Time
}

// Manager hands out sessions, at most one per document at a time.
type Manager struct {
	fetcher   fetch.Fetcher
	converter convert.Converter
	store     *artifact.Store
	locator   annotate.Locator
	locker    lock.Locker
	metrics   *runtime.Metrics
	logger    *log.Logger
	ttl       time.Duration
	debug     bool
	now       func() time.Time

	mu    sync.RWMutex
	byID  map[string]*Session
	byDoc map[string]*Session
	lease map[string]*lock.Lease

	stop chan struct{}
	once sync.Once
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Fetcher == nil || opts.Converter == nil || opts.Store == nil {
		return nil, errors.New("session manager needs a fetcher, a converter and a store")
	}
	if opts.Locator == nil {
		opts.Locator = annotate.NewXPathLocator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewMemoryWithClock(opts.Now)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{
		fetcher:   opts.Fetcher,
		converter: opts.Converter,
		store:     opts.Store,
		locator:   opts.Locator,
		locker:    opts.Locker,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ttl:       opts.TTL,
		debug:     opts.Debug,
		now:       opts.Now,
		byID:      make(map[string]*Session),
		byDoc:     make(map[string]*Session),
		lease:     make(map[string]*lock.Lease),
		stop:      make(chan struct{}),
	}, nil
}

// Open starts an empty session on documentID and leases the document to it
// until Finalize, Abandon or the deadline. The lease is taken on the
// document's artifact name, so two ids that would write the same result file
// exclude each other. The caller's subject, if any, becomes the session owner.
func (m *Manager) Open(ctx context.Context, documentID string) (*Session, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, ErrNoDocument
	}
	key := artifact.NameFromDocumentID(documentID)
	m.mu.RLock()
	prev := m.byDoc[key]
	m.mu.RUnlock()
	if prev != nil {
		prev.expireIfDue(ctx)
	}

	l, err := m.locker.Acquire(ctx, key, m.ttl)
	if errors.Is(err, lock.ErrHeld) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", documentID, err)
	}
	owner, _ := runtime.SubjectFromContext(ctx)
	s := &Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Owner:      owner,
		key:        key,
		m:          m,
		state:      StateEmpty,
		deadline:   l.Expires,
	}
	m.mu.Lock()
	m.byID[s.ID] = s
	m.byDoc[key] = s
	m.lease[s.ID] = l
	m.mu.Unlock()
	m.metrics.SessionOpened()
	m.logger.Printf("session %s opened on %s", s.ID, documentID)
	return s, nil
}

// Get returns a live session by id. A session owned by another subject is
// reported as ErrNotFound; an expired one is abandoned and reported as
// ErrExpired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if subject, _ := runtime.SubjectFromContext(ctx); subject != s.Owner {
		return nil, ErrNotFound
	}
	if s.expireIfDue(ctx) {
		return nil, ErrExpired
	}
	return s, nil
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// release returns s's lease and forgets s. Callers hold s.mu.
func (m *Manager) release(ctx context.Context, s *Session) error {
	m.mu.Lock()
	l := m.lease[s.ID]
	delete(m.lease, s.ID)
	delete(m.byID, s.ID)
	if m.byDoc[s.key] == s {
		delete(m.byDoc, s.key)
	}
	m.mu.Unlock()
	if l == nil {
		return nil
	}
	err := m.locker.Release(ctx, l)
	if errors.Is(err, lock.ErrNotHeld) {
		return nil
	}
	return err
}

// Sweep abandons every session past its deadline and returns how many.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		all = append(all, s)
	}
	m.mu.RUnlock()
	n := 0
	for _, s := range all {
		if s.expireIfDue(ctx) {
			n++
		}
	}
	return n
}

// Start runs Sweep every interval until Stop.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-m.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if n := m.Sweep(context.Background()); n > 0 {
					m.logger.Printf("janitor abandoned %d expired sessions", n)
				}
			}
		}
	}()
}

// Stop ends the janitor and abandons every open session.
func (m *Manager) Stop(ctx context.Context) {
	m.once.Do(func() { close(m.stop) })
	m.mu.RLock()
	all := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		all = append(all, s)
	}
	m.mu.RUnlock()
	for _, s := range all {
		_ = s.Abandon(ctx)
	}
}

// Process runs a whole batch in one session: open, load the document named
// by the batch, apply every annotation, finalize. Every record is resolved
// before the document is touched, and any failure abandons the session so
// no artifact is published.
func (m *Manager) Process(ctx context.Context, batch annotate.Batch) (*Result, error) {
	documentID, err := batch.DocumentID()
	if err != nil {
		return nil, err
	}
	anns, err := batch.Resolve()
	if err != nil {
		return nil, err
	}
	s, err := m.Open(ctx, documentID)
	if err != nil {
		return nil, err
	}
	res, err := m.run(ctx, s, documentID, anns)
	if err != nil {
		_ = s.Abandon(ctx)
		return nil, err
	}
	return res, nil
}

func (m *Manager) run(ctx context.Context, s *Session, source string, anns []annotate.Annotation) (*Result, error) {
	if err := s.Load(ctx, source); err != nil {
		return nil, err
	}
	if _, err := s.SubmitAll(ctx, anns); err != nil {
		return nil, err
	}
	return s.Finalize(ctx)
}
