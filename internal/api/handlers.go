package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"hongit/backend"
)

const AppVersion = "1.0.0"

// extractTimeout bounds a whole fallback scan for one HTTP request.
const extractTimeout = 2 * time.Minute

// Health check
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "local-backend",
		"version": AppVersion,
		"ytdlp":   s.ytDlpVersion,
	})
}

// Upstream reachability and catalog cache counters
func (s *Server) handleStatus(c *fiber.Ctx) error {
	upstreams := map[string]backend.ServiceStatus{}
	if s.status != nil {
		upstreams = s.status.Check(c.UserContext())
	}
	return c.JSON(fiber.Map{
		"upstreams": upstreams,
		"cache":     s.cache.Stats(),
	})
}

// ============== Catalog Handlers ==============

func (s *Server) handleSearchSaavn(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(400).JSON(fiber.Map{"error": "missing_query"})
	}

	body, err := s.catalog.SearchSongs(c.UserContext(), query)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

func (s *Server) handleGetSaavnSong(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return c.Status(400).JSON(fiber.Map{"error": "missing_id"})
	}

	body, err := s.catalog.GetSong(c.UserContext(), id)
	if err != nil {
		backend.Logger.Warn("song lookup failed", "id", id, "error", err)
		return c.Status(500).JSON(fiber.Map{"error": "saavn_fetch_failed"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// ============== Download Handlers ==============

type saavnDownloadBody struct {
	Title  string `json:"title"`
	SongID string `json:"songId"`
}

type directDownloadBody struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (s *Server) handleDownloadSaavn(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "missing_body"})
	}
	var body saavnDownloadBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "missing_body"})
	}
	title := strings.TrimSpace(body.Title)
	songID := strings.TrimSpace(body.SongID)
	if title == "" || songID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "missing_title_or_songId"})
	}

	downloadURL, err := s.catalog.BestDownloadURL(c.UserContext(), songID)
	if err != nil {
		backend.Logger.Warn("saavn download lookup failed", "songId", songID, "error", err)
		code := backend.ErrSongFetchFailed.Error()
		switch {
		case errors.Is(err, backend.ErrNoSongData):
			code = backend.ErrNoSongData.Error()
		case errors.Is(err, backend.ErrNoDownloadURLs):
			code = backend.ErrNoDownloadURLs.Error()
		}
		return c.Status(500).JSON(fiber.Map{"error": code})
	}

	return s.enqueue(c, backend.DownloadRequest{Title: title, URL: downloadURL, Source: "saavn"})
}

func (s *Server) handleDownloadDirect(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "missing_body"})
	}
	var body directDownloadBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "missing_body"})
	}
	if strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.URL) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "missing_title_or_url"})
	}

	return s.enqueue(c, backend.DownloadRequest{Title: body.Title, URL: strings.TrimSpace(body.URL), Source: "direct"})
}

func (s *Server) enqueue(c *fiber.Ctx, req backend.DownloadRequest) error {
	id, err := s.queue.AddToQueue(req)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "queued", "id": id})
}

func (s *Server) handleGetDownloads(c *fiber.Ctx) error {
	return c.JSON(s.queue.GetQueue())
}

func (s *Server) handleGetDownload(c *fiber.Ctx) error {
	item := s.queue.GetItem(c.Params("id"))
	if item == nil {
		return c.Status(404).JSON(fiber.Map{"error": "not_found"})
	}
	return c.JSON(item)
}

func (s *Server) handleCancelDownload(c *fiber.Ctx) error {
	id := c.Params("id")
	if s.queue.GetItem(id) == nil {
		return c.Status(404).JSON(fiber.Map{"error": "not_found"})
	}
	if err := s.queue.CancelItem(id); err != nil {
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

func (s *Server) handleRemoveDownload(c *fiber.Ctx) error {
	if err := s.queue.RemoveFromQueue(c.Params("id")); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "not_found"})
	}
	return c.JSON(fiber.Map{"status": "removed"})
}

func (s *Server) handleClearCompleted(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"removed": s.queue.ClearCompleted()})
}

func (s *Server) handleRetryFailed(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"retried": s.queue.RetryFailed()})
}

// ============== YouTube Handlers ==============

type extractBody struct {
	VideoID     string         `json:"videoId"`
	DataSaver   bool           `json:"dataSaver"`
	AuthHeaders map[string]any `json:"authHeaders"`
}

// parseExtractBody accepts an empty body as a request with no video ID.
func parseExtractBody(c *fiber.Ctx) (extractBody, bool) {
	var body extractBody
	if len(c.Body()) == 0 {
		return body, true
	}
	return body, c.BodyParser(&body) == nil
}

// extractFailure renders an extraction error as {"code","message"}.
func extractFailure(c *fiber.Ctx, err error) error {
	var ee *backend.ExtractError
	if !errors.As(err, &ee) {
		return err
	}
	status := fiber.StatusBadGateway
	if ee.Code == backend.CodeMissingVideoID {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(ee)
}

func (s *Server) handleExtract(c *fiber.Ctx) error {
	body, ok := parseExtractBody(c)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"code": "invalid_body", "message": "request body must be JSON"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), extractTimeout)
	defer cancel()

	result, err := s.extractor.ExtractAudio(ctx, body.VideoID, body.DataSaver, body.AuthHeaders)
	if err != nil {
		return extractFailure(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleExtractURL(c *fiber.Ctx) error {
	body, ok := parseExtractBody(c)
	if !ok {
		return c.Status(400).JSON(fiber.Map{"code": "invalid_body", "message": "request body must be JSON"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), extractTimeout)
	defer cancel()

	streamURL, err := s.extractor.ExtractAudioURL(ctx, body.VideoID, body.DataSaver, body.AuthHeaders)
	if err != nil {
		return extractFailure(c, err)
	}
	return c.JSON(fiber.Map{"url": streamURL})
}

func (s *Server) handleVideoInfo(c *fiber.Ctx) error {
	videoID, err := backend.VideoIDFromInput(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	info, err := s.videoInfo(c.UserContext(), videoID)
	if err != nil {
		return c.Status(502).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(info)
}
