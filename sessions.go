package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rhye/rhye-dev/internal/logx"
	"github.com/rhye/rhye-dev/internal/tabs"
)

const (
	visitorCookie    = "rhye_visitor"
	visitorCookieAge = 3600 * 24 * 365
	visitorKey       = "visitor"
)

// pageSession is one load of the summary page: its own tab strip and id
// counter, sharing the visitor's durable storage with earlier loads.
type pageSession struct {
	id        string
	visitorID string
	manager   *tabs.Manager
	expiresAt time.Time
	// ended is closed once the session is replaced or expires.
	ended chan struct{}
}

// Done is closed when a newer page load or expiry retires the session.
func (p *pageSession) Done() <-chan struct{} {
	return p.ended
}

type managerFactory func(ctx context.Context, visitorID string) (*tabs.Manager, error)

// sessionStore keeps the current page session of each visitor.
type sessionStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	items      map[string]*pageSession
	newManager managerFactory
	now        func() time.Time
}

func newSessionStore(ttl time.Duration, factory managerFactory) *sessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &sessionStore{
		ttl:        ttl,
		items:      make(map[string]*pageSession),
		newManager: factory,
		now:        time.Now,
	}
}

// current returns the visitor's live page session, starting one when there
// is none or it expired.
func (s *sessionStore) current(ctx context.Context, visitorID string) (*pageSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if sess, ok := s.items[visitorID]; ok && now.Before(sess.expiresAt) {
		sess.expiresAt = now.Add(s.ttl)
		return sess, nil
	}
	return s.startLocked(ctx, visitorID, now)
}

// reload replaces the visitor's page session, as a browser reload does.
func (s *sessionStore) reload(ctx context.Context, visitorID string) (*pageSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, visitorID, s.now())
}

func (s *sessionStore) startLocked(ctx context.Context, visitorID string, now time.Time) (*pageSession, error) {
	s.sweepLocked(now)
	m, err := s.newManager(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	sess := &pageSession{
		id:        uuid.NewString(),
		visitorID: visitorID,
		manager:   m,
		expiresAt: now.Add(s.ttl),
		ended:     make(chan struct{}),
	}
	if old, ok := s.items[visitorID]; ok {
		close(old.ended)
	}
	s.items[visitorID] = sess
	logx.WithSession(logx.WithVisitor(ctx, visitorID), sess.id).Info("page session started")
	return sess, nil
}

func (s *sessionStore) sweepLocked(now time.Time) {
	for id, sess := range s.items {
		if !now.Before(sess.expiresAt) {
			close(sess.ended)
			delete(s.items, id)
		}
	}
}

// count returns the number of live page sessions.
func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.items)
}

// visitorMiddleware gives every browser a long-lived visitor id that selects
// its storage namespace.
func visitorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(visitorCookie)
		if err == nil {
			if _, perr := uuid.Parse(id); perr != nil {
				err = perr
			}
		}
		if err != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(visitorCookie, id, visitorCookieAge, "/", "", false, true)
		}
		c.Set(visitorKey, id)
		c.Request = c.Request.WithContext(logx.ContextWithVisitor(c.Request.Context(), id))
		c.Next()
	}
}

func visitorID(c *gin.Context) string {
	return c.GetString(visitorKey)
}

// session resolves the caller's page session or writes a 500.
func (a *app) session(c *gin.Context) (*pageSession, bool) {
	sess, err := a.sessions.current(c.Request.Context(), visitorID(c))
	if err != nil {
		logx.Ctx(c.Request.Context()).Error("page session unavailable", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": MsgInternalError})
		return nil, false
	}
	return sess, true
}
