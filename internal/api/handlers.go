package api

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meetsum/internal/apperr"
	"meetsum/internal/logging"
	"meetsum/internal/models"
	"meetsum/internal/summarize"
	"meetsum/internal/transcribe"
	"meetsum/internal/upload"
	"meetsum/internal/workflow"
)

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type Workflow interface {
	TranscribeFile(ctx context.Context, file *models.UploadedFile) (string, error)
	SummarizeText(ctx context.Context, req summarize.Request) (summarize.Reply, error)
	Create() workflow.Snapshot
	Get(id string) (workflow.Snapshot, error)
	Delete(id string) error
	Transcribe(ctx context.Context, id string, file *models.UploadedFile) (workflow.Snapshot, error)
	SupplyTranscript(ctx context.Context, id, fileName, text string) (workflow.Snapshot, error)
	Summarize(ctx context.Context, id string) (workflow.Snapshot, error)
	StartRefine(ctx context.Context, id, instruction string) (*workflow.Refinement, error)
}

type JobLister interface {
	Recent(ctx context.Context, limit int) ([]models.Job, error)
}

// Options tunes a Handler. Zero values disable the optional parts.
type Options struct {
	AllowedOrigins         []string
	SummarizeRatePerMinute int
	Logger                 *slog.Logger
}

// Handler wires HTTP routes to the upload relay and the session workflow.
type Handler struct {
	workflow Workflow
	relay    *upload.Relay
	jobs     JobLister
	limiter  *rateLimiter
	origins  []string
	logger   *slog.Logger
}

// NewHandler constructs a Handler instance. jobs may be nil when no audit log is kept.
func NewHandler(wf Workflow, relay *upload.Relay, jobs JobLister, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		workflow: wf,
		relay:    relay,
		jobs:     jobs,
		origins:  opts.AllowedOrigins,
		logger:   opts.Logger.With("component", "api"),
	}
	if opts.SummarizeRatePerMinute > 0 {
		h.limiter = newRateLimiter(opts.SummarizeRatePerMinute, time.Minute)
	}
	return h
}

// Router builds the gin engine with recovery, request logging and CORS applied.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(h.logger), corsMiddleware(h.origins))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api")
	limit := h.limiter.middleware()
	api.POST("/transcribe", h.transcribe)
	api.POST("/summarize", limit, h.summarize)
	api.GET("/jobs", h.listJobs)

	sessions := api.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getSession)
	sessions.DELETE("/:id", h.deleteSession)
	sessions.POST("/:id/media", h.sessionMedia)
	sessions.POST("/:id/transcript", h.sessionTranscript)
	sessions.POST("/:id/summarize", limit, h.sessionSummarize)
	sessions.POST("/:id/chat", limit, h.sessionChat)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// errorMessage keeps the wording clients already match on for the common
// input errors.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrNoFile):
		return "No transcript file provided"
	case errors.Is(err, summarize.ErrMissingText):
		return "Missing text"
	}
	return err.Error()
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "err", err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": errorMessage(err)})
}

// formFile returns the "file" part, capping the body at the relay's limit.
func (h *Handler) formFile(c *gin.Context) (*multipart.FileHeader, error) {
	if limit := h.relay.MaxBytes(); limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.ErrTooLarge
		}
		return nil, upload.ErrNoFile
	}
	return fh, nil
}

// Stateless endpoints

func (h *Handler) transcribe(c *gin.Context) {
	fh, err := h.formFile(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	class, _, err := h.relay.Classify(fh)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	var text string
	err = h.relay.With(fh, class, func(f *models.UploadedFile) error {
		var err error
		if class == models.ClassMedia {
			text, err = h.workflow.TranscribeFile(ctx, f)
		} else {
			text, err = transcribe.ReadTranscript(ctx, f.Path)
		}
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

type summarizeRequest struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction"`
}

func (h *Handler) summarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		h.fail(c, summarize.ErrMissingText)
		return
	}
	reply, err := h.workflow.SummarizeText(c.Request.Context(), summarize.Request{Text: req.Text, Instruction: req.Instruction})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": reply.Result()})
}

func (h *Handler) listJobs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	if h.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []models.Job{}})
		return
	}
	jobs, err := h.jobs.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Session endpoints

func (h *Handler) respondSession(c *gin.Context, snap workflow.Snapshot, err error) {
	if err != nil {
		status := apperr.Status(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("session call failed", "session", c.Param("id"), "err", err)
		}
		_ = c.Error(err)
		body := gin.H{"error": errorMessage(err)}
		if snap.ID != "" {
			body["session"] = snap
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

func (h *Handler) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"session": h.workflow.Create()})
}

func (h *Handler) getSession(c *gin.Context) {
	snap, err := h.workflow.Get(c.Param("id"))
	h.respondSession(c, snap, err)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.workflow.Delete(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) sessionMedia(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.workflow.Get(id); err != nil {
		h.fail(c, err)
		return
	}
	fh, err := h.formFile(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var snap workflow.Snapshot
	err = h.relay.With(fh, models.ClassMedia, func(f *models.UploadedFile) error {
		var err error
		snap, err = h.workflow.Transcribe(c.Request.Context(), id, f)
		return err
	})
	h.respondSession(c, snap, err)
}

type transcriptRequest struct {
	Text string `json:"text"`
}

// sessionTranscript accepts either a text upload or a JSON body with the text.
func (h *Handler) sessionTranscript(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.workflow.Get(id); err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req transcriptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, summarize.ErrMissingText)
			return
		}
		snap, err := h.workflow.SupplyTranscript(ctx, id, "", req.Text)
		h.respondSession(c, snap, err)
		return
	}

	fh, err := h.formFile(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var snap workflow.Snapshot
	err = h.relay.With(fh, models.ClassTranscript, func(f *models.UploadedFile) error {
		text, err := transcribe.ReadTranscript(ctx, f.Path)
		if err != nil {
			return err
		}
		snap, err = h.workflow.SupplyTranscript(ctx, id, f.Name, text)
		return err
	})
	h.respondSession(c, snap, err)
}

func (h *Handler) sessionSummarize(c *gin.Context) {
	snap, err := h.workflow.Summarize(c.Request.Context(), c.Param("id"))
	h.respondSession(c, snap, err)
}

type chatRequest struct {
	Instruction string `json:"instruction"`
}

// sessionChat runs one chat-refine turn and streams it back as server-sent
// events: ack, stream (zero or more), then done or error.
func (h *Handler) sessionChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ref, err := h.workflow.StartRefine(c.Request.Context(), c.Param("id"), req.Instruction)
	if err != nil {
		h.fail(c, err)
		return
	}

	stream, err := startEventStream(c)
	if err != nil {
		// the turn was accepted; finish it so the session is not left busy
		ref.Run(c.Request.Context(), nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := stream.send("ack", gin.H{"message": ref.UserMessage}); err != nil {
		ref.Run(c.Request.Context(), nil)
		return
	}
	msg, snap, err := ref.Run(c.Request.Context(), func(delta string) error {
		return stream.send("stream", gin.H{"content": delta})
	})
	if err != nil {
		_ = stream.send("error", gin.H{"message": errorMessage(err), "session": snap})
		return
	}
	_ = stream.send("done", gin.H{"message": msg, "session": snap})
}
