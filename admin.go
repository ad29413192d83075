// admin.go - privacy-conscious admin area for the message relay
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/rhye/rhye-dev/internal/config"
	"github.com/rhye/rhye-dev/internal/kv"
	"github.com/rhye/rhye-dev/internal/logx"
)

const (
	adminCookie     = "admin_token"
	timestampLayout = "2006-01-02 15:04:05"
	retention       = "-12 months"
)

// SubmissionRecord is one relay attempt. Names and messages are never kept.
type SubmissionRecord struct {
	ID         int       `json:"id"`
	HashedIP   string    `json:"hashed_ip"`
	UserAgent  string    `json:"user_agent"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code"`
	Timestamp  time.Time `json:"timestamp"`
}

type AdminStats struct {
	TotalSubmissions    int64              `json:"total_submissions"`
	SuccessfulSent      int64              `json:"successful_sent"`
	UniqueSenders       int64              `json:"unique_senders"`
	SubmissionsToday    int64              `json:"submissions_today"`
	SubmissionsThisWeek int64              `json:"submissions_this_week"`
	StoredDrafts        int64              `json:"stored_drafts"`
	ActiveSessions      int                `json:"active_sessions"`
	RecentSubmissions   []SubmissionRecord `json:"recent_submissions"`
}

type adminArea struct {
	db      *sql.DB
	kv      *kv.DB
	cfg     config.AdminConfig
	token   string
	salt    string
	enabled bool
}

// newAdminArea prepares the submissions table and fresh per-process secrets.
func newAdminArea(ctx context.Context, store *kv.DB, cfg config.AdminConfig) (*adminArea, error) {
	token, err := generateAdminToken()
	if err != nil {
		return nil, err
	}
	salt, err := generateAdminToken()
	if err != nil {
		return nil, err
	}
	a := &adminArea{
		db:      store.SQL(),
		kv:      store,
		cfg:     cfg,
		token:   token,
		salt:    salt,
		enabled: cfg.Password != "" || cfg.PasswordHash != "",
	}
	if err := a.initSubmissionLog(ctx); err != nil {
		return nil, err
	}

	log := logx.Ctx(ctx)
	if a.enabled {
		log.Info("admin access available", "path", "/admin/login")
	} else {
		log.Warn("admin login disabled", "reason", "no password configured", "env", "ADMIN_PASSWORD")
	}
	log.Info("privacy: submission log keeps hashed addresses only")
	return a, nil
}

func generateAdminToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// hashIP hashes an address with the process salt (consistent per IP for the
// life of the process).
func (a *adminArea) hashIP(ip string) string {
	hash := sha256.New()
	hash.Write([]byte(ip + a.salt))
	return hex.EncodeToString(hash.Sum(nil))[:16]
}

func (a *adminArea) checkPassword(password string) bool {
	if a.cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.Password)) == 1
}

func (a *adminArea) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(adminCookie)
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (a *adminArea) initSubmissionLog(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hashed_ip TEXT NOT NULL,
		user_agent TEXT,
		outcome TEXT NOT NULL,
		status_code INTEGER,
		timestamp TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create submissions table: %w", err)
	}
	go a.cleanupOldSubmissions(context.WithoutCancel(ctx))
	return nil
}

// recordSubmission logs a relay attempt. Failures are logged, never surfaced.
func (a *adminArea) recordSubmission(ctx context.Context, ip, userAgent, outcome string, status int) {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO submissions (hashed_ip, user_agent, outcome, status_code, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, a.hashIP(ip), userAgent, outcome, status, time.Now().UTC().Format(timestampLayout))
	if err != nil {
		logx.Ctx(ctx).Warn("recording submission failed", "err", err)
	}
}

// cleanupOldSubmissions drops rows past the retention window.
func (a *adminArea) cleanupOldSubmissions(ctx context.Context) {
	result, err := a.db.ExecContext(ctx, `
		DELETE FROM submissions
		WHERE timestamp < datetime('now', ?)
	`, retention)
	log := logx.Ctx(ctx)
	if err != nil {
		log.Warn("submission cleanup failed", "err", err)
		return
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		log.Info("privacy cleanup removed old submissions", "rows", rows)
	}
}

func (a *adminArea) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *adminArea) recentSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, hashed_ip, COALESCE(user_agent, ''), outcome, COALESCE(status_code, 0), timestamp
		FROM submissions
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubmissionRecord
	for rows.Next() {
		var rec SubmissionRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.HashedIP, &rec.UserAgent, &rec.Outcome, &rec.StatusCode, &ts); err != nil {
			continue
		}
		rec.Timestamp, _ = time.Parse(timestampLayout, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *adminArea) stats(ctx context.Context, sessions *sessionStore) (*AdminStats, error) {
	stats := &AdminStats{}
	var err error

	if stats.TotalSubmissions, err = a.count(ctx, `SELECT COUNT(*) FROM submissions`); err != nil {
		return nil, err
	}
	if stats.SuccessfulSent, err = a.count(ctx, `SELECT COUNT(*) FROM submissions WHERE outcome = 'success'`); err != nil {
		return nil, err
	}
	if stats.UniqueSenders, err = a.count(ctx, `SELECT COUNT(DISTINCT hashed_ip) FROM submissions`); err != nil {
		return nil, err
	}
	if stats.SubmissionsToday, err = a.count(ctx, `SELECT COUNT(*) FROM submissions WHERE DATE(timestamp) = DATE('now')`); err != nil {
		return nil, err
	}
	if stats.SubmissionsThisWeek, err = a.count(ctx, `SELECT COUNT(*) FROM submissions WHERE timestamp >= datetime('now', '-7 days')`); err != nil {
		return nil, err
	}
	if stats.StoredDrafts, err = a.kv.CountKeys(ctx, "draft:*", "draft:*:*"); err != nil {
		return nil, err
	}
	if sessions != nil {
		stats.ActiveSessions = sessions.count()
	}
	if stats.RecentSubmissions, err = a.recentSubmissions(ctx, 50); err != nil {
		return nil, err
	}
	return stats, nil
}

// setupRoutes mounts login, logout and the protected admin group.
func (a *adminArea) setupRoutes(r *gin.Engine, sessions *sessionStore) {
	r.POST("/admin/login", func(c *gin.Context) {
		log := logx.Ctx(c.Request.Context())
		username := c.PostForm("username")
		password := c.PostForm("password")

		if a.enabled &&
			subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) == 1 &&
			a.checkPassword(password) {
			c.SetSameSite(http.SameSiteStrictMode)
			c.SetCookie(adminCookie, a.token, 3600*24, "/admin", "", false, true)
			log.Info("admin login successful", "from", a.hashIP(c.ClientIP()))
			c.JSON(http.StatusOK, gin.H{"message": "logged in"})
			return
		}
		log.Warn("failed admin login attempt", "from", a.hashIP(c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	})

	r.GET("/admin/logout", func(c *gin.Context) {
		c.SetCookie(adminCookie, "", -1, "/admin", "", false, true)
		logx.Ctx(c.Request.Context()).Info("admin logout", "from", a.hashIP(c.ClientIP()))
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	})

	adminGroup := r.Group("/admin")
	adminGroup.Use(a.authMiddleware())

	adminGroup.GET("/api/stats", func(c *gin.Context) {
		stats, err := a.stats(c.Request.Context(), sessions)
		if err != nil {
			logx.Ctx(c.Request.Context()).Error("loading admin stats failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load statistics"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	adminGroup.GET("/submissions", func(c *gin.Context) {
		recs, err := a.recentSubmissions(c.Request.Context(), 200)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load submissions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"submissions": recs})
	})

	adminGroup.POST("/privacy/cleanup", func(c *gin.Context) {
		go a.cleanupOldSubmissions(context.WithoutCancel(c.Request.Context()))
		c.JSON(http.StatusOK, gin.H{"message": "Privacy cleanup initiated"})
	})

	adminGroup.GET("/export/stats", func(c *gin.Context) {
		stats, err := a.stats(c.Request.Context(), sessions)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=admin-stats.json")
		logx.Ctx(c.Request.Context()).Info("admin stats exported", "by", a.hashIP(c.ClientIP()))
		c.JSON(http.StatusOK, stats)
	})
}
