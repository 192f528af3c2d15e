package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"devsquad-chat/internal/chat"
	"devsquad-chat/internal/config"
	"devsquad-chat/internal/database"
	"devsquad-chat/internal/engine"
	"devsquad-chat/internal/middleware"
	"devsquad-chat/internal/utils"
	"devsquad-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	ws "github.com/gorilla/websocket"
)

// Server holds all server dependencies. The HTTP routes and the socket mount
// share one chat service.
type Server struct {
	Service        *chat.Service
	Engine         *engine.Engine
	Hub            *websocket.Hub
	Store          database.ChatStore
	Verifier       middleware.Verifier
	Metrics        *utils.MetricsCollector
	Logger         *slog.Logger
	RequestTimeout time.Duration
	MetricsEnabled bool
	AllowedOrigins []string

	upgrader ws.Upgrader
}

// NewServer creates a new Server instance with the given components
func NewServer(
	service *chat.Service,
	engine *engine.Engine,
	hub *websocket.Hub,
	store database.ChatStore,
	verifier middleware.Verifier,
	metrics *utils.MetricsCollector,
	logger *slog.Logger,
	cfg *config.Config,
) *Server {
	return &Server{
		Service:        service,
		Engine:         engine,
		Hub:            hub,
		Store:          store,
		Verifier:       verifier,
		Metrics:        metrics,
		Logger:         logger,
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		AllowedOrigins: cfg.AllowedOrigins,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.OriginChecker(cfg.AllowedOrigins),
		},
	}
}

// Routes builds the HTTP mount and the socket mount on one router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.Logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(s.AllowedOrigins))

	r.Get("/health", s.HandleHealth())
	if s.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	// The socket authenticates with a query token before upgrading.
	r.Get("/ws", s.HandleWebSocket())

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(s.Verifier, s.Logger, s.writeError))

		r.Post("/chat/open", s.HandleOpenChat())
		r.Get("/chat/{chatId}/messages", s.HandleGetMessages())
		r.Delete("/chat/{chatId}", s.HandleDeleteChat())
		r.Get("/chats", s.HandleListChats())
		r.Get("/chats/unread", s.HandleUnreadCount())
	})

	return r
}
