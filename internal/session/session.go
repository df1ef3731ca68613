// Package session drives one document through load, annotate and finalize
// while holding an exclusive lease on it.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mohammad-safakhou/annotree/internal/annotate"
	"github.com/mohammad-safakhou/annotree/internal/tree"
)

type State int

const (
	StateEmpty State = iota
	StateLoaded
	StateAccumulating
	StateFlushed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateAccumulating:
		return "accumulating"
	case StateFlushed:
		return "flushed"
	case StateAbandoned:
		return "abandoned"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result describes a finalized document.
type Result struct {
	SessionID  string             `json:"sessionId"`
	DocumentID string             `json:"documentId"`
	Path       string             `json:"path"`
	Applied    []annotate.Applied `json:"applied"`
	Wrapped    int                `json:"wrapped"`
}

// Session owns one document's tree between Load and Finalize. All methods
// are safe for concurrent use; mutations are serialised so the wrapper and
// the merger always run to completion.
type Session struct {
	ID         string
	DocumentID string
	// Owner is the authenticated subject that opened the session, empty
	// when the API runs without auth.
	Owner string

	key      string
	m        *Manager
	mu       sync.Mutex
	state    State
	deadline time.Time

	root    *tree.Node
	heights map[int]float64
	tmp     []string
	applied []annotate.Applied
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Load fetches the document at source, converts and prunes it. Nothing is
// published to the session unless every step succeeds.
func (s *Session) Load(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, "load", StateEmpty); err != nil {
		return err
	}

	start := s.m.now()
	data, err := s.m.fetcher.Fetch(ctx, source)
	if err != nil {
		return fmt.Errorf("load %s: %w: %w", source, ErrFetch, err)
	}
	tmp, err := s.m.store.TempPDF(data)
	if err != nil {
		return fmt.Errorf("load %s: %w", source, err)
	}
	root, heights, err := s.build(ctx, tmp)
	if err != nil {
		_ = s.m.store.Remove(tmp)
		return fmt.Errorf("load %s: %w", source, err)
	}
	s.m.metrics.ObserveLoad(s.m.now().Sub(start))

	s.root, s.heights = root, heights
	s.tmp = append(s.tmp, tmp)
	s.state = StateLoaded
	s.m.logger.Printf("session %s loaded %s (%d pages)", s.ID, s.DocumentID, len(heights))
	return nil
}

func (s *Session) build(ctx context.Context, path string) (*tree.Node, map[int]float64, error) {
	root, err := s.m.converter.Convert(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConvert, err)
	}
	heights, err := annotate.PageHeights(root)
	if err != nil {
		return nil, nil, err
	}
	if !tree.Prune(root) {
		return nil, nil, ErrNoContent
	}
	return root, heights, nil
}

// Submit applies one annotation. An annotation that covers nothing is not
// an error and leaves the tree untouched.
func (s *Session) Submit(ctx context.Context, a annotate.Annotation) (annotate.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, "submit", StateLoaded, StateAccumulating); err != nil {
		return annotate.Applied{}, err
	}
	return s.applyLocked(a)
}

// SubmitAll applies annotations in order. Every page is checked before the
// tree is touched; otherwise it stops at the first error.
func (s *Session) SubmitAll(ctx context.Context, anns []annotate.Annotation) ([]annotate.Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, "submit", StateLoaded, StateAccumulating); err != nil {
		return nil, err
	}
	for i, a := range anns {
		if _, ok := s.heights[a.Page]; !ok {
			return nil, fmt.Errorf("annotation %d: page %d: %w", i, a.Page, annotate.ErrUnknownPage)
		}
	}
	out := make([]annotate.Applied, 0, len(anns))
	for i, a := range anns {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ap, err := s.applyLocked(a)
		if err != nil {
			return out, fmt.Errorf("annotation %d: %w", i, err)
		}
		out = append(out, ap)
	}
	return out, nil
}

func (s *Session) applyLocked(a annotate.Annotation) (annotate.Applied, error) {
	h, ok := s.heights[a.Page]
	if !ok {
		return annotate.Applied{}, fmt.Errorf("page %d: %w", a.Page, annotate.ErrUnknownPage)
	}
	rect := annotate.ToDocumentSpace(a.Geometry, h)
	covered, err := s.m.locator.Locate(s.root, rect, a.Page)
	if err != nil {
		return annotate.Applied{}, err
	}
	wrapped, err := annotate.Wrap(a.Label, covered)
	if err != nil {
		return annotate.Applied{}, err
	}
	ap := annotate.Applied{
		Page:    a.Page,
		Type:    a.Type,
		Label:   a.Label,
		Rect:    rect.String(),
		Covered: len(covered),
		Wrapped: wrapped,
	}
	s.applied = append(s.applied, ap)
	s.state = StateAccumulating
	s.m.metrics.AnnotationApplied(string(a.Type), wrapped, len(covered))
	if s.m.debug {
		s.m.logger.Printf("session %s page %d %s %q rect=%s covered=%d wrapped=%d",
			s.ID, a.Page, a.Type, a.Label, ap.Rect, ap.Covered, ap.Wrapped)
	}
	return ap, nil
}

// Finalize merges the tree, writes it to the document's result path and
// releases the document. If the write fails the session keeps its tree so
// the caller may retry or Abandon.
func (s *Session) Finalize(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, "finalize", StateLoaded, StateAccumulating); err != nil {
		return nil, err
	}
	if err := annotate.Merge(s.root); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	path, err := s.m.store.WriteResult(s.DocumentID, func(w io.Writer) error {
		return tree.Encode(w, s.root)
	})
	if err != nil {
		return nil, fmt.Errorf("write result: %w", err)
	}

	res := &Result{SessionID: s.ID, DocumentID: s.DocumentID, Path: path, Applied: s.applied}
	for _, a := range s.applied {
		res.Wrapped += a.Wrapped
	}
	s.closeLocked(ctx, StateFlushed)
	s.m.logger.Printf("session %s finalized %s -> %s", s.ID, s.DocumentID, path)
	return res, nil
}

// Abandon releases the document without writing anything. Abandoning a
// closed session is a no-op.
func (s *Session) Abandon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return nil
	}
	s.closeLocked(ctx, StateAbandoned)
	s.m.logger.Printf("session %s abandoned %s", s.ID, s.DocumentID)
	return nil
}

// expireIfDue abandons the session when its deadline has passed.
func (s *Session) expireIfDue(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() || s.m.now().Before(s.deadline) {
		return false
	}
	s.closeLocked(ctx, StateAbandoned)
	s.m.logger.Printf("session %s expired on %s", s.ID, s.DocumentID)
	return true
}

func (s *Session) closed() bool {
	return s.state == StateFlushed || s.state == StateAbandoned
}

func (s *Session) checkLocked(ctx context.Context, op string, allowed ...State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed() {
		return &StateError{Op: op, State: s.state}
	}
	if !s.m.now().Before(s.deadline) {
		s.closeLocked(ctx, StateAbandoned)
		s.m.logger.Printf("session %s expired on %s", s.ID, s.DocumentID)
		return ErrExpired
	}
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return &StateError{Op: op, State: s.state}
}

// closeLocked drops transient files and the tree, releases the lease and
// detaches the session from its manager.
func (s *Session) closeLocked(ctx context.Context, final State) {
	if err := s.m.store.Remove(s.tmp...); err != nil {
		s.m.logger.Printf("session %s: remove transient files: %v", s.ID, err)
	}
	s.tmp = nil
	s.root, s.heights = nil, nil
	s.state = final
	// The release must happen even when the caller's context is done.
	if err := s.m.release(context.WithoutCancel(ctx), s); err != nil {
		s.m.logger.Printf("session %s: release %s: %v", s.ID, s.DocumentID, err)
	}
	outcome := "finalized"
	if final == StateAbandoned {
		outcome = "abandoned"
	}
	s.m.metrics.SessionClosed(outcome)
}
