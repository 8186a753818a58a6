package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stride/internal/backup"
	"github.com/dukerupert/stride/internal/catalog"
	"github.com/dukerupert/stride/internal/challenge"
	"github.com/dukerupert/stride/internal/config"
	"github.com/dukerupert/stride/internal/handler"
	"github.com/dukerupert/stride/internal/metrics"
	"github.com/dukerupert/stride/internal/middleware"
	"github.com/dukerupert/stride/internal/push"
	"github.com/dukerupert/stride/internal/store"
	ws "github.com/dukerupert/stride/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	engine        *challenge.Engine
	metrics       *metrics.Metrics
	challengeH    *handler.ChallengeHandler
	pushH         *handler.PushHandler
	backupH       *handler.BackupHandler
	rateLimiter   *middleware.RateLimiter
	adminToken    string
	backupManager *backup.Manager
	pushScheduler *push.Scheduler
	logger        *slog.Logger
}

func New(db *sql.DB, cat *catalog.Catalog, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	m := metrics.New()

	loc := cfg.Location()
	engine := challenge.NewEngine(cat, store.NewChallengeStore(db), loc, logger.With("component", "challenge"))
	engine.SetRecorder(m)

	backupLogger := logger.With("component", "backup")
	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		Passphrase:    cfg.BackupPassphrase,
		Interval:      cfg.BackupInterval,
		RetentionDays: cfg.BackupRetentionDays,
	}, db, store.NewBackupStore(db), backupLogger, func(s backup.Status) {
		backupLogger.Debug("backup state changed", "state", s.State, "in_progress", s.InProgress)
	})

	// Push notification service + scheduler
	pushSt := store.NewPushStore(db)
	pushLogger := logger.With("component", "push")
	var (
		pushH     *handler.PushHandler
		notifier  handler.CompletionNotifier
		pushSched *push.Scheduler
	)
	if cfg.PushEnabled() {
		pushSvc := push.NewService(push.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
		})
		n := push.NewNotifier(pushSvc, pushSt, pushLogger)
		notifier = n
		if cfg.ReminderHour >= 0 {
			pushSched = push.NewScheduler(n, pushSt, loc, cfg.ReminderHour, pushLogger)
		}
		pushH = handler.NewPushHandler(pushSt, pushSvc.VAPIDPublicKey(), logger.With("component", "push_handler"))
	}

	return &Server{
		db:            db,
		hub:           hub,
		engine:        engine,
		metrics:       m,
		challengeH:    handler.NewChallengeHandler(engine, hub, notifier, logger.With("component", "challenge_handler")),
		pushH:         pushH,
		backupH:       handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		rateLimiter:   middleware.NewRateLimiter(cfg.RateLimit, max(1, int(cfg.RateLimit*2))),
		adminToken:    cfg.AdminToken,
		backupManager: backupMgr,
		pushScheduler: pushSched,
		logger:        logger,
	}
}

// Engine returns the challenge engine.
func (s *Server) Engine() *challenge.Engine {
	return s.engine
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// PushScheduler returns the daily reminder scheduler, or nil when push is
// not configured.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.registerUserRoutes(mux)

	// Admin routes
	admin := middleware.RequireAdmin(s.adminToken)
	mux.Handle("GET /api/admin/backups", admin(http.HandlerFunc(s.backupH.List)))
	mux.Handle("POST /api/admin/backups", admin(http.HandlerFunc(s.backupH.Run)))

	// Metrics sit inside the context-rewriting middleware so they observe
	// the pattern the mux sets on the request.
	var h http.Handler = s.metrics.Middleware(mux)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	return middleware.RequestID(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// user wraps h with identity extraction.
func (s *Server) user(h http.HandlerFunc) http.Handler {
	return middleware.RequireUser(h)
}

// limited wraps h with identity extraction and per-user rate limiting.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.rateLimiter, middleware.UserOrIP)
	return middleware.RequireUser(rl(h))
}

func (s *Server) registerUserRoutes(mux *http.ServeMux) {
	// Catalog
	mux.Handle("GET /api/challenges", s.user(s.challengeH.ListChallenges))
	mux.Handle("GET /api/challenges/{id}", s.user(s.challengeH.GetChallenge))

	// Enrollment and check-ins
	mux.Handle("POST /api/challenges/{id}/join", s.limited(s.challengeH.Join))
	mux.Handle("POST /api/challenges/{id}/check-in", s.limited(s.challengeH.CheckIn))
	mux.Handle("GET /api/challenges/{id}/progress", s.user(s.challengeH.Progress))
	mux.Handle("DELETE /api/challenges/{id}/enrollment", s.limited(s.challengeH.Unenroll))
	mux.Handle("GET /api/enrollments", s.user(s.challengeH.ListEnrollments))

	// Rewards and activity
	mux.Handle("GET /api/points", s.user(s.challengeH.Points))
	mux.Handle("GET /api/activity", s.user(s.challengeH.Activity))
	mux.Handle("GET /api/dashboard", s.user(s.challengeH.Dashboard))

	// Push notification API routes
	if s.pushH != nil {
		mux.Handle("GET /api/push/vapid-key", s.user(s.pushH.VAPIDKey))
		mux.Handle("POST /api/push/subscribe", s.limited(s.pushH.Subscribe))
		mux.Handle("GET /api/push/subscriptions", s.user(s.pushH.List))
		mux.Handle("DELETE /api/push/subscriptions/{id}", s.user(s.pushH.Unsubscribe))
	}

	// WebSocket
	mux.Handle("GET /ws", s.user(ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket"))))
}
