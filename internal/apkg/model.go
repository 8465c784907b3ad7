package apkg

// DeckID identifies a deck within a single package.
type DeckID int64

// Deck is a deck that owns at least one note in the parse result.
type Deck struct {
	ID        DeckID `json:"id"`
	Name      string `json:"name"`
	NoteCount int    `json:"note_count"`
}

// Note is a normalized flashcard note.
type Note struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Tags  string `json:"tags"`
}

// ParseResult holds every non-empty deck and the notes assigned to it.
// For every deck d in Decks, len(NotesByDeck[d.ID]) == d.NoteCount.
type ParseResult struct {
	Decks       []Deck
	NotesByDeck map[DeckID][]Note
}

// TotalNotes returns the number of notes across all decks.
func (r ParseResult) TotalNotes() int {
	total := 0
	for _, deck := range r.Decks {
		total += deck.NoteCount
	}
	return total
}

// schemaVariant classifies the collection generation implied by the matched archive entry.
type schemaVariant int

const (
	schemaLegacy schemaVariant = iota
	schemaCurrent
)

func (v schemaVariant) String() string {
	if v == schemaCurrent {
		return "current"
	}
	return "legacy"
}

type deckInfo struct {
	ID   DeckID
	Name string
}

// deckIndex is the uniform deck mapping every downstream stage consumes.
type deckIndex map[DeckID]deckInfo

type cardRow struct {
	NoteID int64 `gorm:"column:nid"`
	DeckID int64 `gorm:"column:did"`
}

type noteRow struct {
	ID     int64  `gorm:"column:id"`
	Fields string `gorm:"column:flds"`
	Tags   string `gorm:"column:tags"`
}
