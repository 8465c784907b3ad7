package apkg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

const (
	legacyConfigTable = "col"
	currentDeckTable  = "decks"
	currentDeckQuery  = "SELECT id, name FROM decks NOT INDEXED"

	// deckNameSeparator is the hierarchy separator stored in the current schema's deck names.
	deckNameSeparator = "\x1f"
	// DeckPathSeparator is the human readable hierarchy separator surfaced to callers.
	DeckPathSeparator = "::"
)

// deckSource is the raw deck metadata in whichever shape the collection stores it.
type deckSource interface {
	decks() (deckIndex, error)
}

// legacyDeckSource is the JSON object stored in col.decks, keyed by deck id.
type legacyDeckSource struct {
	blob string
}

// currentDeckSource is the rows of the dedicated decks table.
type currentDeckSource struct {
	rows []currentDeckRow
}

type currentDeckRow struct {
	ID   int64  `gorm:"column:id"`
	Name string `gorm:"column:name"`
}

type legacyConfigRow struct {
	Decks string `gorm:"column:decks"`
}

type legacyDeckPayload struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

func loadDecks(ctx context.Context, db *gorm.DB, variant schemaVariant) (deckIndex, error) {
	var (
		source deckSource
		err    error
	)
	switch variant {
	case schemaCurrent:
		source, err = readCurrentDeckSource(ctx, db)
	default:
		source, err = readLegacyDeckSource(ctx, db)
	}
	if err != nil {
		return nil, err
	}

	index, err := source.decks()
	if err != nil {
		return nil, newError(opLoadDecks, ErrMalformedDeckData, err)
	}
	return index, nil
}

func readLegacyDeckSource(ctx context.Context, db *gorm.DB) (deckSource, error) {
	if !db.WithContext(ctx).Migrator().HasTable(legacyConfigTable) {
		return nil, newError(opLoadDecks, ErrMissingDeckConfig, fmt.Errorf("table %q not found", legacyConfigTable))
	}

	var rows []legacyConfigRow
	if err := db.WithContext(ctx).Table(legacyConfigTable).Select("decks").Limit(1).Find(&rows).Error; err != nil {
		return nil, newError(opLoadDecks, ErrMalformedDeckData, err)
	}
	if len(rows) == 0 {
		return nil, newError(opLoadDecks, ErrMissingDeckConfig, nil)
	}
	return legacyDeckSource{blob: rows[0].Decks}, nil
}

func readCurrentDeckSource(ctx context.Context, db *gorm.DB) (deckSource, error) {
	if !db.WithContext(ctx).Migrator().HasTable(currentDeckTable) {
		return nil, newError(opLoadDecks, ErrMalformedDeckData, fmt.Errorf("table %q not found", currentDeckTable))
	}

	// name is declared COLLATE unicase and indexed by idx_decks_name. The collation is not
	// registered here, so the scan must not touch that index or compare names.
	var rows []currentDeckRow
	if err := db.WithContext(ctx).Raw(currentDeckQuery).Scan(&rows).Error; err != nil {
		return nil, newError(opLoadDecks, ErrMalformedDeckData, err)
	}
	return currentDeckSource{rows: rows}, nil
}

func (s legacyDeckSource) decks() (deckIndex, error) {
	if strings.TrimSpace(s.blob) == "" {
		return nil, errors.New("empty deck blob")
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s.blob), &payload); err != nil {
		return nil, fmt.Errorf("decode deck blob: %w", err)
	}

	index := make(deckIndex, len(payload))
	for key, raw := range payload {
		var deck legacyDeckPayload
		if err := json.Unmarshal(raw, &deck); err != nil {
			return nil, fmt.Errorf("decode deck %s: %w", key, err)
		}
		rawID := strings.TrimSpace(deck.ID.String())
		if rawID == "" {
			rawID = strings.TrimSpace(key)
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("deck %s: invalid id %q", key, rawID)
		}
		index[DeckID(id)] = deckInfo{ID: DeckID(id), Name: deck.Name}
	}
	return index, nil
}

func (s currentDeckSource) decks() (deckIndex, error) {
	index := make(deckIndex, len(s.rows))
	for _, row := range s.rows {
		index[DeckID(row.ID)] = deckInfo{
			ID:   DeckID(row.ID),
			Name: strings.ReplaceAll(row.Name, deckNameSeparator, DeckPathSeparator),
		}
	}
	return index, nil
}
