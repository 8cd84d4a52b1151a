package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"tutorly/internal/api"
	"tutorly/internal/artifacts"
	"tutorly/internal/auth"
	"tutorly/internal/backend"
	"tutorly/internal/cache"
	"tutorly/internal/config"
	"tutorly/internal/keepalive"
	"tutorly/internal/logging"
	"tutorly/internal/models"
	"tutorly/internal/notes"
	"tutorly/internal/redis"
	"tutorly/internal/storage"
	"tutorly/internal/studyguide"
	"tutorly/internal/uploads"
	"tutorly/internal/worker"
	"tutorly/internal/workflow"
	"tutorly/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logging.L().Debug("no .env file found")
	}
	log := logging.L()

	cfg, err := config.Load(os.Getenv("TUTORLY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.BasicConfig.LogLevel)

	dbType := os.Getenv("TUTORLY_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Infof("dbType: %s", dbType)
	db, err := storage.Open(dbType, cfg.Databases[dbType])
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	queryCache := cache.Cache(cache.NewMemory())
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		queryCache = cache.NewRedis(rdb)
	}
	cacheTTL := time.Duration(cfg.BasicConfig.CacheTTLSeconds) * time.Second

	identity, err := auth.NewIdentity(cfg.Identity)
	switch {
	case errors.Is(err, auth.ErrIdentityDisabled):
		log.Warn("identity provider not configured, sign-in is disabled")
	case err != nil:
		log.Fatalf("init identity provider: %v", err)
	}
	authService, err := auth.NewService(db, rdb, identity, time.Duration(cfg.BasicConfig.SessionTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	client := backend.New(cfg.Backend.BaseURL, auth.HeaderProvider{},
		backend.WithTimeout(time.Duration(cfg.Backend.TimeoutSeconds)*time.Second))
	log.Infof("backend: %s", client.BaseURL())

	var store artifacts.Store
	local, err := artifacts.NewLocal(cfg.Artifacts.Dir)
	if err != nil {
		log.Fatalf("init artifact dir: %v", err)
	}
	store = local
	if cfg.Artifacts.Supabase.URL != "" {
		remote, err := artifacts.NewSupabase(cfg.Artifacts.Supabase)
		if err != nil {
			log.Fatalf("init supabase storage: %v", err)
		}
		store = artifacts.NewMirror(local, remote)
	}

	guides := studyguide.NewGenerator(client, queryCache, cacheTTL, store)
	notesService := notes.NewService(client, queryCache, cacheTTL)

	workflowOpts := workflow.Options{
		Params:       cfg.Processing,
		PollInterval: time.Duration(cfg.Workflow.PollIntervalMS) * time.Millisecond,
		MaxPolls:     cfg.Workflow.MaxPolls,
		Deadline:     time.Duration(cfg.Workflow.DeadlineMinutes) * time.Minute,
	}
	jobs := worker.NewManager(client, worker.Config{
		Workflow: workflowOpts,
		Dispatcher: worker.DispatcherConfig{
			MinWorkers:  cfg.BasicConfig.MinWorkers,
			MaxWorkers:  cfg.BasicConfig.MaxWorkers,
			QueueSize:   cfg.BasicConfig.QueueSize,
			IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleMinutes) * time.Minute,
		},
		Redis: rdb,
	})
	defer jobs.Close()

	hub := ws.NewHub(originChecker(cfg.BasicConfig.AllowedOrigins))
	jobs.OnUpdate(func(job models.AudioJob) { hub.Broadcast(job) })
	jobs.OnCompleted(func(userID string) {
		guides.InvalidateAudioList(context.Background(), userID)
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	keepalive.Start(bgCtx, client, time.Duration(cfg.BasicConfig.KeepAliveMinutes)*time.Minute)
	authService.StartJanitor(bgCtx, time.Hour)
	uploads.StartCleaner(bgCtx, cfg.BasicConfig.UploadDir, uploads.DefaultTempFileTTL, uploads.DefaultTempFileCleanupInterval)

	handlers := api.NewHandler(api.Deps{
		Auth:           authService,
		Jobs:           jobs,
		Hub:            hub,
		Notes:          notesService,
		Guides:         guides,
		Audio:          client,
		UploadDir:      cfg.BasicConfig.UploadDir,
		MaxUploadBytes: int64(cfg.BasicConfig.MaxUploadMB) << 20,
	})

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.BasicConfig.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", authService.CSRFHeaderName()},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Artifact-Location", "X-Study-Guide-Mode"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	log.Infof("listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
