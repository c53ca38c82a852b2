package api

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"hongit/backend"
)

// VideoInfoFunc looks up display metadata for a YouTube video.
type VideoInfoFunc func(ctx context.Context, videoID string) (*backend.VideoInfo, error)

// Options wires the server to its collaborators.
type Options struct {
	Config       *backend.Config
	Queue        *backend.Queue
	Catalog      *backend.SaavnClient
	Extractor    *backend.Extractor
	Status       *backend.StatusChecker
	Cache        *backend.CatalogCache
	VideoInfo    VideoInfoFunc // defaults to backend.GetVideoMetadata
	YtDlpVersion string
	AccessLog    bool
}

// Server represents the HTTP API server
type Server struct {
	app          *fiber.App
	config       *backend.Config
	queue        *backend.Queue
	catalog      *backend.SaavnClient
	extractor    *backend.Extractor
	status       *backend.StatusChecker
	cache        *backend.CatalogCache
	videoInfo    VideoInfoFunc
	ytDlpVersion string
	wsHub        *WebSocketHub
}

// NewServer creates a new API server instance
func NewServer(opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Hongit Local Backend",
		ServerHeader:          "Hongit",
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	wsHub := NewWebSocketHub()
	go wsHub.Run()

	videoInfo := opts.VideoInfo
	if videoInfo == nil {
		videoInfo = backend.GetVideoMetadata
	}

	server := &Server{
		app:          app,
		config:       opts.Config,
		queue:        opts.Queue,
		catalog:      opts.Catalog,
		extractor:    opts.Extractor,
		status:       opts.Status,
		cache:        opts.Cache,
		videoInfo:    videoInfo,
		ytDlpVersion: opts.YtDlpVersion,
		wsHub:        wsHub,
	}

	// Middleware
	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	server.setupRoutes()

	return server
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/status", s.handleStatus)

	// Catalog
	s.app.Get("/search/saavn", s.handleSearchSaavn)
	s.app.Get("/song/saavn/:id?", s.handleGetSaavnSong)

	// Downloads
	s.app.Post("/download/saavn", s.handleDownloadSaavn)
	s.app.Post("/download/direct", s.handleDownloadDirect)
	s.app.Get("/downloads", s.handleGetDownloads)
	s.app.Post("/downloads/clear", s.handleClearCompleted)
	s.app.Post("/downloads/retry", s.handleRetryFailed)
	s.app.Get("/downloads/:id", s.handleGetDownload)
	s.app.Delete("/downloads/:id", s.handleRemoveDownload)
	s.app.Post("/downloads/:id/cancel", s.handleCancelDownload)

	// YouTube extraction
	s.app.Post("/youtube/extract", s.handleExtract)
	s.app.Post("/youtube/extract-url", s.handleExtractURL)
	s.app.Get("/youtube/info/:id", s.handleVideoInfo)

	// WebSocket endpoint
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))

	// Everything else
	s.app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	})
}

// errorHandler renders every unhandled error as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code == fiber.StatusNotFound {
		return c.Status(code).JSON(fiber.Map{"error": "not_found"})
	}
	if code >= 500 {
		backend.Logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// App exposes the underlying fiber app (used by tests).
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.wsHub.Close()
	return s.app.Shutdown()
}

// BroadcastQueueEvent sends a queue event to all connected WebSocket clients
func (s *Server) BroadcastQueueEvent(event backend.QueueEvent) {
	s.wsHub.Broadcast(event)
}

// WebSocketHub fans download events out to connected clients
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan interface{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the WebSocket hub
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			backend.Logger.Debug("websocket client connected", "total", total)
		case conn := <-h.unregister:
			h.remove(conn)
		case message := <-h.broadcast:
			var failed []*websocket.Conn
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(message); err != nil {
					backend.Logger.Debug("websocket write failed", "error", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

func (h *WebSocketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	backend.Logger.Debug("websocket client disconnected", "total", total)
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients
func (h *WebSocketHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		backend.Logger.Warn("websocket broadcast channel full, dropping message")
	}
}

// Close shuts down the hub
func (h *WebSocketHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.mu.Unlock()
	})
}

// handleWebSocket keeps a client registered until it disconnects.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	select {
	case s.wsHub.register <- c:
	case <-s.wsHub.done:
		return
	}
	defer func() {
		select {
		case s.wsHub.unregister <- c:
		case <-s.wsHub.done:
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
