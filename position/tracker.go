package position

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"inkwell/storage"
)

// Viewport is the rendered reading surface as the tracker sees it. All
// measurements are pixels in document coordinates of the current section.
type Viewport interface {
	SectionIndex() int
	ScrollOffset() int
	ContentHeight() int
	ViewportHeight() int
	// ParagraphAt returns the content hash and top offset of the paragraph
	// closest to the given offset, searching upward first.
	ParagraphAt(offset int) (hash string, top int, ok bool)
	// ParagraphTop returns the top offset of the paragraph with the given
	// content hash, false when the section does not contain it.
	ParagraphTop(hash string) (int, bool)
	ScrollTo(offset int)
}

// Saver persists confirmed reading positions.
type Saver interface {
	SaveProgress(storage.Progress) error
}

// Options tunes the tracker's timing and restore behavior.
type Options struct {
	// ScrollDebounce is the quiet period after the last scroll event
	// before the position is captured.
	ScrollDebounce time.Duration
	// SaveDebounce is the quiet period after the last captured position
	// before it is persisted.
	SaveDebounce time.Duration
	// RestoreMargin is subtracted from the restored paragraph's top so the
	// anchor paragraph is not glued to the viewport edge.
	RestoreMargin int
}

// Tracker turns raw scroll events into persisted reading positions and
// restores the position when a book is reopened. Capture and persistence
// are debounced separately: capture settles fast so the anchor paragraph
// matches what the reader sees, persistence is lazier to keep writes rare.
type Tracker struct {
	vp     Viewport
	bookID string
	saver  Saver
	opts   Options
	log    *zap.Logger

	scrollDeb *Debouncer
	saveDeb   *Debouncer

	mu       sync.Mutex
	pending  *storage.Progress
	restored bool
	closed   bool
}

// NewTracker creates a tracker for one open book.
func NewTracker(vp Viewport, bookID string, saver Saver, opts Options, log *zap.Logger) *Tracker {
	t := &Tracker{
		vp:     vp,
		bookID: bookID,
		saver:  saver,
		opts:   opts,
		log:    log.Named("position"),
	}
	t.scrollDeb = NewDebouncer(opts.ScrollDebounce, t.capture)
	t.saveDeb = NewDebouncer(opts.SaveDebounce, t.persist)
	return t
}

// OnScroll is called for every raw scroll event of the reading surface.
// Events arriving after Close are dropped.
func (t *Tracker) OnScroll() {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.scrollDeb.Trigger()
}

// capture reads the viewport once the scroll has settled and queues the
// position for persistence.
func (t *Tracker) capture() {
	offset := t.vp.ScrollOffset()
	p := storage.Progress{
		BookID:       t.bookID,
		SectionIndex: t.vp.SectionIndex(),
		OffsetPx:     offset,
		Percent:      t.percent(offset),
		UpdatedAt:    time.Now(),
	}
	if hash, _, ok := t.vp.ParagraphAt(offset); ok {
		p.ParagraphHash = hash
	}

	t.mu.Lock()
	t.pending = &p
	t.mu.Unlock()
	t.saveDeb.Trigger()
}

func (t *Tracker) percent(offset int) float64 {
	scrollable := t.vp.ContentHeight() - t.vp.ViewportHeight()
	if scrollable <= 0 {
		return 0
	}
	pct := float64(offset) / float64(scrollable)
	if pct < 0 {
		return 0
	}
	if pct > 1 {
		return 1
	}
	return pct
}

// persist writes the queued position through the saver.
func (t *Tracker) persist() {
	t.mu.Lock()
	p := t.pending
	t.pending = nil
	t.mu.Unlock()

	if p == nil || t.saver == nil {
		return
	}
	if err := t.saver.SaveProgress(*p); err != nil {
		t.log.Warn("Unable to persist reading position", zap.Error(err))
		return
	}
	t.log.Debug("Reading position saved",
		zap.Int("section", p.SectionIndex),
		zap.String("paragraph", p.ParagraphHash),
		zap.Int("offset", p.OffsetPx))
}

// restoreStrategy turns a stored position into a scroll offset, false
// when the position does not carry enough for this policy.
type restoreStrategy struct {
	name string
	fn   func(p storage.Progress) (offset int, ok bool)
}

// strategies are ordered by stability: the anchor paragraph's content
// hash first (it survives reflow and font changes), the raw pixel offset
// next, the relative percent last.
func (t *Tracker) strategies() []restoreStrategy {
	return []restoreStrategy{
		{"paragraph", t.byParagraph},
		{"offset", t.byOffset},
		{"percent", t.byPercent},
	}
}

func (t *Tracker) byParagraph(p storage.Progress) (int, bool) {
	if p.ParagraphHash == "" {
		return 0, false
	}
	top, ok := t.vp.ParagraphTop(p.ParagraphHash)
	if !ok {
		t.log.Debug("Anchor paragraph not found, falling back", zap.String("paragraph", p.ParagraphHash))
		return 0, false
	}
	offset := top - t.opts.RestoreMargin
	if offset < 0 {
		offset = 0
	}
	return offset, true
}

func (t *Tracker) byOffset(p storage.Progress) (int, bool) {
	if p.OffsetPx <= 0 || p.OffsetPx > t.vp.ContentHeight() {
		return 0, false
	}
	return p.OffsetPx, true
}

func (t *Tracker) byPercent(p storage.Progress) (int, bool) {
	if p.Percent <= 0 {
		return 0, false
	}
	scrollable := t.vp.ContentHeight() - t.vp.ViewportHeight()
	if scrollable <= 0 {
		return 0, false
	}
	return int(p.Percent * float64(scrollable)), true
}

// Restore scrolls the viewport to a previously stored position, trying
// each strategy in order until one produces an offset. Only the first
// call has any effect - once the reader starts moving, a late restore
// must not yank the view away.
func (t *Tracker) Restore(p storage.Progress) bool {
	t.mu.Lock()
	if t.restored {
		t.mu.Unlock()
		return false
	}
	t.restored = true
	t.mu.Unlock()

	for _, s := range t.strategies() {
		offset, ok := s.fn(p)
		if !ok {
			continue
		}
		t.vp.ScrollTo(offset)
		t.log.Debug("Position restored",
			zap.String("strategy", s.name),
			zap.String("paragraph", p.ParagraphHash),
			zap.Int("offset", offset))
		return true
	}
	return false
}

// Flush captures and persists the current position immediately. Used on
// section change and book close where waiting out the debounce would lose
// the position.
func (t *Tracker) Flush() {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.scrollDeb.Stop()
	t.capture()
	t.saveDeb.Stop()
	t.persist()
}

// Close stops the timers and persists whatever position is pending. The
// tracker is inert afterwards, late scroll events do nothing.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.scrollDeb.Stop()
	t.saveDeb.Stop()
	t.persist()
}
