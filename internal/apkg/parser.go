package apkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/database"
	"go.uber.org/zap"
)

const (
	defaultMaxPackageBytes    int64  = 512 << 20
	defaultMaxCollectionBytes uint64 = 2 << 30
	collectionFileName               = "collection.sqlite"
	tempDirPattern                   = "apkg-*"
)

var noOpLogger = zap.NewNop()

// ParserConfig describes the limits and scratch space for package parsing.
type ParserConfig struct {
	// TempDir is the root under which each call creates its own scratch directory.
	// Empty means os.TempDir().
	TempDir            string
	MaxPackageBytes    int64
	MaxCollectionBytes uint64
	Logger             *zap.Logger
}

// Parser converts .apkg packages into a ParseResult.
type Parser struct {
	tempDir            string
	maxPackageBytes    int64
	maxCollectionBytes uint64
	logger             *zap.Logger
}

// NewParser constructs a Parser, filling unset limits with defaults.
func NewParser(cfg ParserConfig) *Parser {
	maxPackage := cfg.MaxPackageBytes
	if maxPackage <= 0 {
		maxPackage = defaultMaxPackageBytes
	}
	maxCollection := cfg.MaxCollectionBytes
	if maxCollection == 0 {
		maxCollection = defaultMaxCollectionBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Parser{
		tempDir:            cfg.TempDir,
		maxPackageBytes:    maxPackage,
		maxCollectionBytes: maxCollection,
		logger:             logger,
	}
}

// ParseFile parses the package stored at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("open package: %w", err)
	}
	defer file.Close()
	return p.Parse(ctx, file)
}

// Parse reads one package from source and returns its non-empty decks and their notes.
// Either a complete result or an error is returned; the scratch database created for the
// call is removed before Parse returns.
func (p *Parser) Parse(ctx context.Context, source io.Reader) (ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return ParseResult{}, err
	}

	data, err := p.readPackage(source)
	if err != nil {
		return ParseResult{}, err
	}

	entry, err := readCollectionEntry(data)
	if err != nil {
		p.logFailure(err)
		return ParseResult{}, err
	}

	payload, err := decodePayload(entry, p.maxCollectionBytes)
	if err != nil {
		p.logFailure(err, zap.String("entry", entry.name))
		return ParseResult{}, err
	}

	result, err := p.parseCollection(ctx, entry, payload)
	if err != nil {
		p.logFailure(err, zap.String("entry", entry.name))
		return ParseResult{}, err
	}

	p.logger.Info("apkg parsed",
		zap.String("entry", entry.name),
		zap.String("schema", entry.variant.String()),
		zap.Int("decks", len(result.Decks)),
		zap.Int("notes", result.TotalNotes()))
	return result, nil
}

func (p *Parser) readPackage(source io.Reader) ([]byte, error) {
	if source == nil {
		return nil, newError(opReadPackage, ErrCorruptArchive, fmt.Errorf("nil package source"))
	}
	data, err := io.ReadAll(io.LimitReader(source, p.maxPackageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	if int64(len(data)) > p.maxPackageBytes {
		return nil, newError(opReadPackage, ErrPackageTooLarge, fmt.Errorf("package exceeds %d bytes", p.maxPackageBytes))
	}
	return data, nil
}

func (p *Parser) parseCollection(ctx context.Context, entry collectionEntry, payload []byte) (ParseResult, error) {
	scratchDir, err := os.MkdirTemp(p.tempDir, tempDirPattern)
	if err != nil {
		return ParseResult{}, newError(opMaterialize, ErrUnreadableCollection, err)
	}
	defer p.removeScratch(scratchDir)

	collectionPath := filepath.Join(scratchDir, collectionFileName)
	if err := os.WriteFile(collectionPath, payload, 0o600); err != nil {
		return ParseResult{}, newError(opMaterialize, ErrUnreadableCollection, err)
	}

	collection, err := database.OpenCollection(collectionPath, p.logger)
	if err != nil {
		return ParseResult{}, newError(opMaterialize, ErrUnreadableCollection, err)
	}
	defer p.closeCollection(collection)

	decks, err := loadDecks(ctx, collection.DB, entry.variant)
	if err != nil {
		return ParseResult{}, err
	}
	cards, err := loadCards(ctx, collection.DB)
	if err != nil {
		return ParseResult{}, err
	}
	notes, err := loadNotes(ctx, collection.DB)
	if err != nil {
		return ParseResult{}, err
	}

	return assignNotes(decks, resolveOwnership(cards), notes), nil
}

func (p *Parser) closeCollection(collection *database.Collection) {
	if err := collection.Close(); err != nil {
		p.logger.Warn("collection close failed", zap.String("path", collection.Path()), zap.Error(err))
	}
}

func (p *Parser) removeScratch(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("scratch cleanup failed", zap.String("path", dir), zap.Error(err))
	}
}

func (p *Parser) logFailure(err error, fields ...zap.Field) {
	attrs := make([]zap.Field, 0, len(fields)+3)
	var parseErr *Error
	if errors.As(err, &parseErr) {
		attrs = append(attrs,
			zap.String("operation", parseErr.Operation()),
			zap.String("code", parseErr.Code()))
	}
	attrs = append(attrs, zap.Error(err))
	attrs = append(attrs, fields...)
	p.logger.Warn("apkg parse failed", attrs...)
}
