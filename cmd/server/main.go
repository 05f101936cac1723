package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"homedoc/internal/agent"
	"homedoc/internal/config"
	"homedoc/internal/conversation"
	"homedoc/internal/notify"
	"homedoc/internal/platform/telegram"
	"homedoc/internal/prediction"
	"homedoc/internal/report"
	"homedoc/internal/session"
)

func main() {
	// 1. Configuration
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 2. Infrastructure
	var db *sqlx.DB
	for i := 0; i < 10; i++ {
		db, err = sqlx.Open("postgres", cfg.Database.URL)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		log.Printf("Waiting for DB... (%d/10)", i+1)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatalf("Could not connect to DB: %v", err)
	}
	log.Println("Connected to database.")

	m, err := migrate.New("file://"+cfg.Database.MigrationsDir, cfg.Database.URL)
	if err != nil {
		log.Printf("Migration init failed: %v", err)
	} else if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Printf("Migration up failed: %v", err)
	} else {
		log.Println("Migrations applied.")
	}

	// 3. Clients
	geminiClient := agent.NewGeminiClient(cfg.AI.GeminiKey)
	geminiClient.Model = cfg.AI.GeminiModel

	diseaseClient := prediction.NewClient(cfg.Disease.BaseURL)

	// 4. Services
	broker := notify.NewMemoryBroker()

	var reportSvc conversation.ReportService
	if cfg.ReportsEnabled() {
		tgClient := telegram.NewClient(cfg.Telegram.BotToken)
		reportSvc = report.NewService(tgClient, cfg.Telegram.DoctorChatID)
	} else {
		log.Println("Warning: TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set. Doctor reports are disabled.")
	}

	convRepo := conversation.NewRepository(db.DB)
	convSvc := conversation.NewService(convRepo, geminiClient, reportSvc, broker)
	convHandler := conversation.NewHandler(convSvc, broker)

	predRepo := prediction.NewPostgresRepository(db)
	predSvc := prediction.NewService(diseaseClient, predRepo, broker)
	predHandler := prediction.NewHandler(predSvc)

	// 5. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", predHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(session.Middleware)
			conversation.RegisterRoutes(r, convHandler)
			prediction.RegisterRoutes(r, predHandler)
		})
	})

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := http.ListenAndServe(":"+cfg.Server.Port, r); err != nil {
		log.Fatal(err)
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-User-ID")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
