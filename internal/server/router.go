package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/apkg"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/csvdeck"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "anki2spotify_user_id"
	packageFormField      = "package"
	apkgExtension         = ".apkg"
	defaultMaxUploadBytes = 512 << 20
	multipartOverhead     = 1 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingParser           = errors.New("package parser dependency required")
	errInvalidAuthorization    = errors.New("authorization missing or invalid")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type PackageParser interface {
	Parse(ctx context.Context, source io.Reader) (apkg.ParseResult, error)
}

type IDProvider interface {
	NewID() (string, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Parser           PackageParser
	IDProvider       IDProvider
	Logger           *zap.Logger
	MaxUploadBytes   int64
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Parser == nil {
		return nil, errMissingParser
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := deps.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:       deps.SessionValidator,
		parser:         deps.Parser,
		ids:            idProvider,
		logger:         logger,
		maxUploadBytes: maxUpload,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/decks/import", handler.handleDeckImport)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions       SessionValidator
	parser         PackageParser
	ids            IDProvider
	logger         *zap.Logger
	maxUploadBytes int64
}

type importResponsePayload struct {
	ImportID    string                      `json:"import_id"`
	Source      string                      `json:"source"`
	Decks       []apkg.Deck                 `json:"decks,omitempty"`
	NotesByDeck map[apkg.DeckID][]apkg.Note `json:"notes_by_deck,omitempty"`
	Cards       []apkg.Note                 `json:"cards,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleDeckImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	file, header, err := c.Request.FormFile(packageFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "package_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	defer file.Close()

	importID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("failed to generate import id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}
	logger := h.logger.With(
		zap.String("import_id", importID),
		zap.String("user_id", c.GetString(userIDContextKey)),
		zap.String("file_name", header.Filename),
	)

	if strings.EqualFold(filepath.Ext(header.Filename), apkgExtension) {
		h.importPackage(c, logger, importID, file)
		return
	}
	h.importCSV(c, logger, importID, file)
}

func (h *httpHandler) importPackage(c *gin.Context, logger *zap.Logger, importID string, file io.Reader) {
	result, err := h.parser.Parse(c.Request.Context(), file)
	if err != nil {
		h.respondParseError(c, logger, err)
		return
	}
	if len(result.Decks) == 0 {
		logger.Info("package contained no cards")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_cards_found"})
		return
	}

	logger.Info("package imported", zap.Int("decks", len(result.Decks)), zap.Int("notes", result.TotalNotes()))
	c.JSON(http.StatusOK, importResponsePayload{
		ImportID:    importID,
		Source:      "apkg",
		Decks:       result.Decks,
		NotesByDeck: result.NotesByDeck,
	})
}

func (h *httpHandler) importCSV(c *gin.Context, logger *zap.Logger, importID string, file io.Reader) {
	cards, err := csvdeck.Parse(file)
	if err != nil {
		logger.Warn("csv import failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_csv"})
		return
	}
	if len(cards) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_cards_found"})
		return
	}

	logger.Info("csv imported", zap.Int("cards", len(cards)))
	c.JSON(http.StatusOK, importResponsePayload{
		ImportID: importID,
		Source:   "csv",
		Cards:    cards,
	})
}

func (h *httpHandler) respondParseError(c *gin.Context, logger *zap.Logger, err error) {
	var parseErr *apkg.Error
	switch {
	case errors.Is(err, apkg.ErrPackageTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "package_too_large"})
	case errors.As(err, &parseErr):
		logger.Info("package rejected", zap.String("code", parseErr.Code()), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": apkg.Reason(parseErr.Kind()),
			"code":  parseErr.Code(),
		})
	default:
		logger.Error("package import failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}
