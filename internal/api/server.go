// Package api serves translations over a small REST surface: create
// (single or batch), fetch and delete by id, model metadata, health.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/s4sarath/rosetta/internal/beam"
	"github.com/s4sarath/rosetta/internal/logger"
	"github.com/s4sarath/rosetta/internal/translator"
)

// Server-side ceilings for per-request decode overrides.
const (
	DefaultMaxBeamWidth = 32
	DefaultMaxSteps     = 512
)

// Translator is the decoding surface the server drives.
type Translator interface {
	Translate(ctx context.Context, text string, opts translator.Options) (*translator.Translation, error)
	Info() translator.ModelInfo
}

// Config bounds what a single request may ask for.
type Config struct {
	MaxBeamWidth int
	MaxSteps     int
	Logger       logger.Logger
}

type Server struct {
	store *TranslationStore
	tr    Translator
	cfg   Config
	log   logger.Logger
	clock func() time.Time
}

func NewServer(store *TranslationStore, tr Translator, cfg Config) *Server {
	if store == nil {
		store = NewTranslationStore()
	}
	if cfg.MaxBeamWidth <= 0 {
		cfg.MaxBeamWidth = DefaultMaxBeamWidth
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	return &Server{
		store: store,
		tr:    tr,
		cfg:   cfg,
		log:   cfg.Logger,
		clock: time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/translations", s.handleCreateTranslation)
	e.GET("/v1/translations/:id", s.handleGetTranslation)
	e.DELETE("/v1/translations/:id", s.handleDeleteTranslation)
	e.GET("/v1/model", s.handleModelInfo)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleCreateTranslation(c *echo.Context) error {
	if s.tr == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "translator not configured", "", "")
	}
	req, err := decodeJSON[TranslationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	var opts translator.Options
	if req.BeamWidth != nil {
		w := *req.BeamWidth
		if w < 1 || w > s.cfg.MaxBeamWidth {
			return writeError(c, http.StatusBadRequest, "invalid_request_error",
				fmt.Sprintf("beam_width must be between 1 and %d", s.cfg.MaxBeamWidth), "beam_width", "")
		}
		opts.BeamWidth = w
	}
	if req.MaxSteps != nil {
		n := *req.MaxSteps
		if n < 1 || n > s.cfg.MaxSteps {
			return writeError(c, http.StatusBadRequest, "invalid_request_error",
				fmt.Sprintf("max_steps must be between 1 and %d", s.cfg.MaxSteps), "max_steps", "")
		}
		opts.MaxSteps = n
	}

	ctx := c.Request().Context()
	switch {
	case req.Input.String != nil:
		obj, err := s.translateOne(ctx, *req.Input.String, opts)
		if err != nil {
			return s.writeTranslateError(c, err)
		}
		return c.JSON(http.StatusOK, obj)
	case req.Input.Items != nil:
		if len(req.Input.Items) == 0 {
			return writeError(c, http.StatusBadRequest, "invalid_request_error",
				"input array must not be empty", "input", "")
		}
		return c.JSON(http.StatusOK, s.translateBatch(ctx, req.Input.Items, opts))
	default:
		return writeError(c, http.StatusBadRequest, "invalid_request_error",
			"input is required", "input", "")
	}
}

func (s *Server) translateOne(ctx context.Context, text string, opts translator.Options) (TranslationObject, error) {
	res, err := s.tr.Translate(ctx, text, opts)
	if err != nil {
		return TranslationObject{}, err
	}
	obj := TranslationObject{
		ID:         newTranslationID(),
		Object:     "translation",
		CreatedAt:  s.clock().Unix(),
		Input:      res.SourceText,
		Output:     res.Text,
		Score:      res.Score,
		AvgLogProb: res.AvgLogProb,
		TokenCount: res.TokenCount,
		Finished:   res.Finished,
		Cached:     res.Cached,
	}
	s.store.Save(obj)
	return obj, nil
}

func (s *Server) translateBatch(ctx context.Context, texts []string, opts translator.Options) TranslationBatch {
	batch := TranslationBatch{
		ID:        "trb_" + uuid.NewString(),
		Object:    "translation.batch",
		CreatedAt: s.clock().Unix(),
		Data:      make([]BatchItem, 0, len(texts)),
	}
	for i, text := range texts {
		item := BatchItem{Index: i}
		obj, err := s.translateOne(ctx, text, opts)
		if err != nil {
			_, typ := classifyError(err)
			item.Error = &ResponseError{Message: err.Error(), Type: typ}
			batch.Failed++
		} else {
			item.Translation = &obj
			batch.Succeeded++
		}
		batch.Data = append(batch.Data, item)
	}
	return batch
}

func (s *Server) handleGetTranslation(c *echo.Context) error {
	obj, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "translation not found")
	}
	return c.JSON(http.StatusOK, obj)
}

func (s *Server) handleDeleteTranslation(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "translation not found")
	}
	return c.JSON(http.StatusOK, DeleteTranslationResp{
		ID:      id,
		Object:  "translation",
		Deleted: true,
	})
}

func (s *Server) handleModelInfo(c *echo.Context) error {
	if s.tr == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "translator not configured", "", "")
	}
	return c.JSON(http.StatusOK, s.tr.Info())
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// classifyError maps a translate failure to its HTTP status and
// structured error type. Model failures during decoding are reported
// as 502.
func classifyError(err error) (int, string) {
	if errors.Is(err, translator.ErrEmptyInput) || errors.Is(err, beam.ErrInvalidArgument) {
		return http.StatusBadRequest, "invalid_request_error"
	}
	var stepErr *beam.StepError
	if errors.As(err, &stepErr) || errors.Is(err, beam.ErrBadDistribution) {
		return http.StatusBadGateway, "model_error"
	}
	return http.StatusInternalServerError, "server_error"
}

func (s *Server) writeTranslateError(c *echo.Context, err error) error {
	status, typ := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("translate failed", "error", err)
	}
	return writeError(c, status, typ, err.Error(), "", "")
}
