package apkg

import (
	"context"
	"sort"

	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// noteOwnership maps a note id to the deck that owns it.
type noteOwnership map[int64]DeckID

// resolveOwnership assigns every note to the lowest deck id among its cards.
// The result does not depend on the order of cards.
func resolveOwnership(cards []cardRow) noteOwnership {
	owners := make(noteOwnership, len(cards))
	for _, card := range cards {
		deckID := DeckID(card.DeckID)
		current, ok := owners[card.NoteID]
		if !ok || deckID < current {
			owners[card.NoteID] = deckID
		}
	}
	return owners
}

// assignNotes normalizes notes and files each one under its owning deck. Notes without cards,
// without usable content, or owned by a deck missing from decks are dropped. Deck counts are
// taken from the same assignment, so they always match the note lists.
func assignNotes(decks deckIndex, owners noteOwnership, notes []noteRow) ParseResult {
	sorted := make([]noteRow, len(notes))
	copy(sorted, notes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	notesByDeck := make(map[DeckID][]Note)
	for _, row := range sorted {
		deckID, ok := owners[row.ID]
		if !ok {
			continue
		}
		if _, known := decks[deckID]; !known {
			continue
		}
		note, ok := NormalizeNote(row.Fields, row.Tags)
		if !ok {
			continue
		}
		notesByDeck[deckID] = append(notesByDeck[deckID], note)
	}

	result := ParseResult{
		Decks:       make([]Deck, 0, len(notesByDeck)),
		NotesByDeck: notesByDeck,
	}
	for deckID, assigned := range notesByDeck {
		result.Decks = append(result.Decks, Deck{
			ID:        deckID,
			Name:      decks[deckID].Name,
			NoteCount: len(assigned),
		})
	}
	sortDecks(result.Decks)
	return result
}

func sortDecks(decks []Deck) {
	fold := cases.Fold()
	sort.Slice(decks, func(i, j int) bool {
		left, right := fold.String(decks[i].Name), fold.String(decks[j].Name)
		if left != right {
			return left < right
		}
		return decks[i].ID < decks[j].ID
	})
}

func loadCards(ctx context.Context, db *gorm.DB) ([]cardRow, error) {
	var cards []cardRow
	if err := db.WithContext(ctx).Table("cards").Select("nid, did").Find(&cards).Error; err != nil {
		return nil, newError(opLoadNotes, ErrUnreadableCollection, err)
	}
	return cards, nil
}

func loadNotes(ctx context.Context, db *gorm.DB) ([]noteRow, error) {
	var notes []noteRow
	if err := db.WithContext(ctx).Table("notes").Select("id, flds, tags").Order("id").Find(&notes).Error; err != nil {
		return nil, newError(opLoadNotes, ErrUnreadableCollection, err)
	}
	return notes, nil
}
