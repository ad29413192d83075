package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhye/rhye-dev/internal/config"
	"github.com/rhye/rhye-dev/internal/kv"
	"github.com/rhye/rhye-dev/internal/logx"
	"github.com/rhye/rhye-dev/internal/relay"
	"github.com/rhye/rhye-dev/internal/tabs"
)

type app struct {
	cfg       config.Config
	db        *kv.DB
	forwarder *relay.Forwarder
	submitter tabs.Submitter
	sessions  *sessionStore
	admin     *adminArea
}

func newApp(ctx context.Context, cfg config.Config, db *kv.DB) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.Relay.Timeout}
	a := &app{
		cfg:       cfg,
		db:        db,
		forwarder: relay.NewForwarder(cfg.Relay.WebhookURL, cfg.Relay.Token, httpClient),
	}
	if cfg.Relay.Endpoint != "" {
		a.submitter = relay.NewClient(cfg.Relay.Endpoint, httpClient)
	} else {
		a.submitter = a.forwarder
	}
	a.sessions = newSessionStore(cfg.SessionTTL, a.newManager)

	admin, err := newAdminArea(ctx, db, cfg.Admin)
	if err != nil {
		return nil, err
	}
	a.admin = admin
	return a, nil
}

// storeFor returns the durable storage of one visitor, the server-side
// counterpart of the browser's local storage.
func (a *app) storeFor(visitorID string) kv.Store {
	return a.db.Namespace("visitor:" + visitorID)
}

func (a *app) newManager(ctx context.Context, visitorID string) (*tabs.Manager, error) {
	return tabs.NewManager(tabs.Config{
		BaseAddress:   a.cfg.BaseAddress,
		MaxDraftTabs:  a.cfg.Tabs.MaxDraftTabs,
		EvictOldest:   a.cfg.Tabs.EvictOldest,
		PurgeOnClose:  a.cfg.Tabs.PurgeOnClose,
		SubmitTimeout: a.cfg.Tabs.SubmitTimeout,
	}, tabs.Deps{
		Store:     a.storeFor(visitorID),
		Submitter: a.submitter,
		Logger:    logx.WithVisitor(ctx, visitorID),
	})
}

func (a *app) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), visitorMiddleware())
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	a.mountStatic(r)

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// The page still posts to the path the serverless function lived at.
	r.POST("/.netlify/functions/send-message", a.relayHandler)
	r.POST("/api/relay", a.relayHandler)

	api := r.Group("/api")
	api.POST("/session", a.newSessionHandler)
	api.GET("/prefs", a.prefsHandler)
	api.POST("/prefs/theme/toggle", a.toggleThemeHandler)
	api.GET("/events", a.eventsHandler)

	tabsGroup := api.Group("/tabs")
	tabsGroup.GET("", a.listTabsHandler)
	tabsGroup.POST("", a.createTabHandler)
	tabsGroup.POST("/:id/activate", a.activateTabHandler)
	tabsGroup.PATCH("/:id", a.renameTabHandler)
	tabsGroup.DELETE("/:id", a.closeTabHandler)
	tabsGroup.PUT("/:id/pane", a.editPaneHandler)
	tabsGroup.GET("/:id/draft", a.restoreDraftHandler)
	tabsGroup.PUT("/:id/draft", a.saveDraftHandler)
	tabsGroup.DELETE("/:id/draft", a.clearDraftHandler)
	tabsGroup.POST("/:id/submit", a.submitDraftHandler)

	a.admin.setupRoutes(r, a.sessions)
	return r
}

func (a *app) mountStatic(r *gin.Engine) {
	dir := a.cfg.StaticDir
	if dir == "" {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	r.Static("/static", dir)
	if images := filepath.Join(dir, "images"); isDir(images) {
		r.Static("/images", images)
	}
	if index := filepath.Join(dir, "index.html"); fileExists(index) {
		r.StaticFile("/", index)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logx.Ctx(ctx)
	db, err := kv.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := newApp(ctx, cfg, db)
	if err != nil {
		return err
	}
	if cfg.Relay.WebhookURL == "" {
		log.Warn("relay webhook not configured; submissions will fail", "env", "WEBHOOK_URL")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("http shutting down")
	return srv.Shutdown(shutdownCtx)
}
