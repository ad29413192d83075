package tabs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/rhye/rhye-dev/internal/logx"
)

// DefaultSubmitTimeout bounds a submission when Config leaves it unset.
const DefaultSubmitTimeout = 15 * time.Second

// Config tunes a Manager. The zero value gives unbounded draft tabs that keep
// their persisted draft after closing.
type Config struct {
	BaseAddress   string
	MaxDraftTabs  int
	EvictOldest   bool
	PurgeOnClose  bool
	SubmitTimeout time.Duration
}

// Deps are the collaborators of a Manager. Store is required.
type Deps struct {
	Store     Store
	Submitter Submitter
	Logger    pslog.Logger
	Now       func() time.Time
}

type entry struct {
	tab  Tab
	pane Pane
	// edits counts user edits of the pane.
	edits int
}

// Manager owns the open tabs of one page session.
type Manager struct {
	cfg       Config
	store     Store
	submitter Submitter
	log       pslog.Logger
	now       func() time.Time

	mu        sync.Mutex
	entries   []*entry
	active    string
	counter   int
	inflight  map[string]struct{}
	listeners map[int]Listener
	nextSub   int

	// Events are numbered under mu in the order the state changed and
	// delivered from pending by one dispatcher at a time.
	seq         uint64
	pending     []Event
	dispatching bool
}

// NewManager builds a manager holding the permanent tabs, with the first one
// active and the id counter at 1.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("tabs: store is required")
	}
	if cfg.BaseAddress == "" {
		cfg.BaseAddress = DefaultBaseAddress
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.MaxDraftTabs < 0 {
		cfg.MaxDraftTabs = 0
	}
	log := deps.Logger
	if log == nil {
		log = logx.Ctx(context.Background())
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		cfg:       cfg,
		store:     deps.Store,
		submitter: deps.Submitter,
		log:       log,
		now:       now,
		counter:   1,
		inflight:  make(map[string]struct{}),
		listeners: make(map[int]Listener),
	}
	for _, p := range permanentTabs {
		m.entries = append(m.entries, &entry{tab: Tab{ID: p.id, Kind: KindPermanent, Title: p.title}})
	}
	m.active = m.entries[0].tab.ID
	return m, nil
}

// Subscribe registers l for every subsequent event and returns a function
// that removes it.
func (m *Manager) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = l
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// queueLocked numbers events and appends them for delivery. Callers hold mu
// and call flush once it is released.
func (m *Manager) queueLocked(events ...Event) {
	for _, ev := range events {
		m.seq++
		ev.Seq = m.seq
		m.pending = append(m.pending, ev)
	}
}

func (m *Manager) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	m.queueLocked(events...)
	m.mu.Unlock()
	m.flush()
}

// flush delivers pending events in sequence order. When another goroutine,
// or a listener further up this stack, is already delivering, that
// dispatcher picks the new events up.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		listeners := make([]Listener, 0, len(m.listeners))
		for i := 0; i < m.nextSub; i++ {
			if l, ok := m.listeners[i]; ok {
				listeners = append(listeners, l)
			}
		}
		m.mu.Unlock()
		for _, ev := range batch {
			for _, l := range listeners {
				l(ev)
			}
		}
		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

// Tabs returns the tabs in display order.
func (m *Manager) Tabs() []Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tab, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, m.snapshotLocked(e))
	}
	return out
}

// Active returns the id of the active tab.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Address returns the address label of the active tab.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return AddressFor(m.cfg.BaseAddress, m.active)
}

// Pane returns the in-memory note of a draft tab.
func (m *Manager) Pane(id string) (Pane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.draftLocked(id)
	if err != nil {
		return Pane{}, err
	}
	return e.pane, nil
}

// Busy reports whether a submission for id is in flight.
func (m *Manager) Busy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[id]
	return ok
}

func (m *Manager) snapshotLocked(e *entry) Tab {
	t := e.tab
	t.Active = t.ID == m.active
	return t
}

func (m *Manager) indexLocked(id string) int {
	for i, e := range m.entries {
		if e.tab.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) draftLocked(id string) (*entry, error) {
	idx := m.indexLocked(id)
	if idx < 0 {
		return nil, ErrTabNotFound
	}
	e := m.entries[idx]
	if e.tab.Kind != KindDraft {
		return nil, ErrNotDraft
	}
	return e, nil
}

func (m *Manager) activateLocked(id string) Event {
	m.active = id
	t := m.snapshotLocked(m.entries[m.indexLocked(id)])
	return Event{
		Type:    EventTabActivated,
		TabID:   id,
		Tab:     &t,
		Address: AddressFor(m.cfg.BaseAddress, id),
	}
}

// closeLocked removes a draft tab and moves focus to the first tab when the
// closed one was active.
func (m *Manager) closeLocked(idx int) []Event {
	e := m.entries[idx]
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	closed := e.tab
	events := []Event{{Type: EventTabClosed, TabID: closed.ID, Tab: &closed}}
	if m.active == closed.ID {
		events = append(events, m.activateLocked(m.entries[0].tab.ID))
	}
	return events
}

func (m *Manager) draftCountLocked() int {
	n := 0
	for _, e := range m.entries {
		if e.tab.Kind == KindDraft {
			n++
		}
	}
	return n
}

func (m *Manager) oldestDraftLocked() int {
	oldest := -1
	for i, e := range m.entries {
		if e.tab.Kind != KindDraft {
			continue
		}
		if oldest < 0 || e.tab.Seq < m.entries[oldest].tab.Seq {
			oldest = i
		}
	}
	return oldest
}

// CreateDraftTab opens a new draft tab, restores any draft persisted under
// its id, and makes it active.
func (m *Manager) CreateDraftTab(ctx context.Context) (string, error) {
	var events []Event
	var purge []string

	m.mu.Lock()
	if m.cfg.MaxDraftTabs > 0 && m.draftCountLocked() >= m.cfg.MaxDraftTabs {
		if !m.cfg.EvictOldest {
			m.mu.Unlock()
			m.log.Warn("draft tab rejected", "reason", "limit", "max", m.cfg.MaxDraftTabs)
			return "", ErrTabLimit
		}
		idx := m.oldestDraftLocked()
		evicted := m.entries[idx].tab.ID
		events = append(events, m.closeLocked(idx)...)
		if m.cfg.PurgeOnClose {
			purge = append(purge, evicted)
		}
		logx.WithTab(m.log, evicted).Info("draft tab evicted", "max", m.cfg.MaxDraftTabs)
	}
	m.counter++
	seq := m.counter
	t := Tab{ID: draftID(seq), Kind: KindDraft, Title: draftTitle(seq), Seq: seq}
	m.entries = append(m.entries, &entry{tab: t, pane: newPane("", "")})
	created := m.snapshotLocked(m.entries[len(m.entries)-1])
	events = append(events, Event{Type: EventTabCreated, TabID: t.ID, Tab: &created})
	events = append(events, m.activateLocked(t.ID))
	m.queueLocked(events...)
	m.mu.Unlock()

	for _, id := range purge {
		m.purge(ctx, id)
	}
	logx.WithTab(m.log, t.ID).Info("draft tab created")
	m.flush()

	if _, _, err := m.RestoreDraft(ctx, t.ID); err != nil && !errors.Is(err, ErrTabNotFound) {
		logx.WithTab(m.log, t.ID).Warn("draft restore failed", "err", err)
	}
	return t.ID, nil
}

// SwitchTo activates id. Unknown ids are ignored and report false.
func (m *Manager) SwitchTo(id string) bool {
	m.mu.Lock()
	if m.indexLocked(id) < 0 {
		m.mu.Unlock()
		return false
	}
	ev := m.activateLocked(id)
	m.queueLocked(ev)
	m.mu.Unlock()
	logx.WithTab(m.log, id).Debug("tab activated", "address", ev.Address)
	m.flush()
	return true
}

// CloseTab removes a draft tab. Permanent and unknown ids are ignored and
// report false. The persisted draft is kept unless PurgeOnClose is set.
func (m *Manager) CloseTab(ctx context.Context, id string) bool {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 || !m.entries[idx].tab.Closable() {
		m.mu.Unlock()
		return false
	}
	m.queueLocked(m.closeLocked(idx)...)
	m.mu.Unlock()

	if m.cfg.PurgeOnClose {
		m.purge(ctx, id)
	}
	logx.WithTab(m.log, id).Info("draft tab closed")
	m.flush()
	return true
}

func (m *Manager) purge(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, DraftKeys(id)...); err != nil {
		logx.WithTab(m.log, id).Warn("draft purge failed", "err", err)
	}
}

// RenameDraftTab sets the title of a draft tab. A blank title restores the
// default one. The resulting title is returned.
func (m *Manager) RenameDraftTab(id, title string) (string, error) {
	m.mu.Lock()
	e, err := m.draftLocked(id)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = e.tab.DefaultTitle()
	}
	e.tab.Title = title
	t := m.snapshotLocked(e)
	m.queueLocked(Event{Type: EventTabRenamed, TabID: id, Tab: &t})
	m.mu.Unlock()

	m.flush()
	return title, nil
}

// Edit records what the user typed into a draft tab's pane.
func (m *Manager) Edit(id, author, content string) (Pane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.draftLocked(id)
	if err != nil {
		return Pane{}, err
	}
	e.pane = newPane(author, content)
	e.edits++
	return e.pane, nil
}

// SaveDraft persists a draft tab's note. Blank content is rejected before
// anything is written; repeated saves overwrite.
func (m *Manager) SaveDraft(ctx context.Context, id, author, content string) (Draft, error) {
	if _, err := m.Edit(id, author, content); err != nil {
		return Draft{}, err
	}
	if blank(content) {
		return Draft{}, &ValidationError{Missing: []Field{FieldContent}}
	}

	// The three keys are written one by one, not atomically. A failure after
	// the content write leaves the new content beside the previous author
	// and timestamp.
	savedAt := m.now()
	if err := m.store.Set(ctx, draftKey(id), content); err != nil {
		return Draft{}, fmt.Errorf("save draft: %w", err)
	}
	if blank(author) {
		if err := m.store.Delete(ctx, authorKey(id)); err != nil {
			return Draft{}, fmt.Errorf("save draft author: %w", err)
		}
		author = ""
	} else if err := m.store.Set(ctx, authorKey(id), author); err != nil {
		return Draft{}, fmt.Errorf("save draft author: %w", err)
	}
	if err := m.store.Set(ctx, savedAtKey(id), strconv.FormatInt(savedAt.UnixMilli(), 10)); err != nil {
		return Draft{}, fmt.Errorf("save draft timestamp: %w", err)
	}

	d := Draft{
		TabID:      id,
		Content:    content,
		AuthorName: author,
		SavedAt:    time.UnixMilli(savedAt.UnixMilli()),
		Chars:      CharCount(content),
		Words:      WordCount(content),
	}
	logx.WithTab(m.log, id).Debug("draft saved", "chars", d.Chars)
	m.emit(Event{Type: EventDraftSaved, TabID: id, Draft: &d})
	return d, nil
}

// RestoreDraft loads the persisted draft for id into its pane. The boolean
// is false when nothing was stored. An edit made while storage is read wins:
// the pane keeps it and the stored draft is only returned.
func (m *Manager) RestoreDraft(ctx context.Context, id string) (Draft, bool, error) {
	m.mu.Lock()
	e, err := m.draftLocked(id)
	var edits int
	if err == nil {
		edits = e.edits
	}
	m.mu.Unlock()
	if err != nil {
		return Draft{}, false, err
	}

	content, hasContent, err := m.store.Get(ctx, draftKey(id))
	if err != nil {
		return Draft{}, false, fmt.Errorf("restore draft: %w", err)
	}
	author, hasAuthor, err := m.store.Get(ctx, authorKey(id))
	if err != nil {
		return Draft{}, false, fmt.Errorf("restore draft author: %w", err)
	}
	hasContent = hasContent && content != ""
	hasAuthor = hasAuthor && author != ""
	if !hasContent && !hasAuthor {
		return Draft{}, false, nil
	}
	var savedAt time.Time
	if raw, ok, err := m.store.Get(ctx, savedAtKey(id)); err == nil && ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			savedAt = time.UnixMilli(ms)
		}
	}

	m.mu.Lock()
	e, err = m.draftLocked(id)
	if err != nil {
		m.mu.Unlock()
		return Draft{}, false, err
	}
	if e.edits != edits {
		m.mu.Unlock()
		stored := newPane(author, content)
		logx.WithTab(m.log, id).Debug("draft restore skipped", "reason", "pane edited")
		return Draft{
			TabID:      id,
			Content:    stored.Content,
			AuthorName: stored.Author,
			SavedAt:    savedAt,
			Chars:      stored.Chars,
			Words:      stored.Words,
		}, true, nil
	}
	pane := e.pane
	if hasContent {
		pane.Content = content
	}
	if hasAuthor {
		pane.Author = author
	}
	e.pane = newPane(pane.Author, pane.Content)
	pane = e.pane
	d := Draft{
		TabID:      id,
		Content:    pane.Content,
		AuthorName: pane.Author,
		SavedAt:    savedAt,
		Chars:      pane.Chars,
		Words:      pane.Words,
	}
	m.queueLocked(Event{Type: EventDraftRestored, TabID: id, Draft: &d})
	m.mu.Unlock()

	m.flush()
	return d, true, nil
}

// ClearResult tells what ClearDraft did.
type ClearResult int

const (
	// ClearNothing means the pane was already empty; confirm was not asked.
	ClearNothing ClearResult = iota
	// ClearCancelled means confirm declined.
	ClearCancelled
	// Cleared means the pane and the persisted draft were removed.
	Cleared
)

func (r ClearResult) String() string {
	switch r {
	case ClearNothing:
		return "nothing"
	case ClearCancelled:
		return "cancelled"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("clear(%d)", int(r))
	}
}

// ClearDraft empties a draft tab's pane and deletes its persisted draft once
// confirm agrees. A nil confirm declines.
func (m *Manager) ClearDraft(ctx context.Context, id string, confirm func() bool) (ClearResult, error) {
	m.mu.Lock()
	e, err := m.draftLocked(id)
	if err != nil {
		m.mu.Unlock()
		return ClearNothing, err
	}
	empty := e.pane.empty()
	m.mu.Unlock()

	if empty {
		return ClearNothing, nil
	}
	if confirm == nil || !confirm() {
		return ClearCancelled, nil
	}
	if err := m.store.Delete(ctx, DraftKeys(id)...); err != nil {
		return ClearNothing, fmt.Errorf("clear draft: %w", err)
	}

	m.mu.Lock()
	if e, err := m.draftLocked(id); err == nil {
		e.pane = newPane("", "")
	}
	m.queueLocked(Event{Type: EventDraftCleared, TabID: id})
	m.mu.Unlock()

	logx.WithTab(m.log, id).Info("draft cleared")
	m.flush()
	return Cleared, nil
}

// SubmitDraft validates and sends a draft tab's note. Both blank fields are
// reported together and the endpoint is not contacted. While a submission
// is in flight further submits for the tab fail with ErrSubmitInFlight. The
// pane keeps its text whatever the outcome.
func (m *Manager) SubmitDraft(ctx context.Context, id, author, content string) (Ack, error) {
	if _, err := m.Edit(id, author, content); err != nil {
		return Ack{}, err
	}
	var missing []Field
	if blank(author) {
		missing = append(missing, FieldAuthor)
	}
	if blank(content) {
		missing = append(missing, FieldContent)
	}
	if len(missing) > 0 {
		return Ack{}, &ValidationError{Missing: missing}
	}

	m.mu.Lock()
	if _, busy := m.inflight[id]; busy {
		m.mu.Unlock()
		return Ack{}, ErrSubmitInFlight
	}
	m.inflight[id] = struct{}{}
	m.queueLocked(Event{Type: EventSubmitStarted, TabID: id})
	m.mu.Unlock()

	log := logx.WithTab(m.log, id)
	m.flush()

	ack, err := m.send(ctx, Submission{
		AuthorName: strings.TrimSpace(author),
		Content:    strings.TrimSpace(content),
	})

	outcome := Outcome(err)
	ev := Event{Type: EventSubmitFinished, TabID: id, Outcome: outcome}
	if err != nil {
		ev.Message = err.Error()
		log.Warn("submission failed", "outcome", outcome, "err", err)
	} else {
		log.Info("submission sent")
	}

	m.mu.Lock()
	delete(m.inflight, id)
	m.queueLocked(ev)
	m.mu.Unlock()
	m.flush()
	return ack, err
}

func (m *Manager) send(ctx context.Context, s Submission) (Ack, error) {
	if m.submitter == nil {
		return Ack{}, &TransportError{Err: ErrNoSubmitter}
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	defer cancel()

	type result struct {
		ack Ack
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := m.submitter.Submit(ctx, s)
		done <- result{ack: ack, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		// A submitter that ignores ctx must not hold the tab busy.
		return Ack{}, &TransportError{Err: ctx.Err()}
	}
	if r.err != nil {
		return Ack{}, &TransportError{Err: r.err}
	}
	if r.ack.Status != StatusSuccess {
		return r.ack, &RemoteRejectedError{Status: r.ack.Status, Message: r.ack.Data}
	}
	return r.ack, nil
}
