// Package apkgtest writes real .apkg packages for tests.
package apkgtest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/klauspost/compress/zstd"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Deck is a deck row written into a fixture collection.
type Deck struct {
	ID   int64
	Name string
}

// Note is a note row; one card is written per entry of DeckIDs, in order.
type Note struct {
	ID      int64
	Fields  []string
	Tags    string
	DeckIDs []int64
}

// Collection describes the contents of a fixture collection database.
type Collection struct {
	Decks []Deck
	Notes []Note
	// OmitDeckConfig leaves the legacy col table empty.
	OmitDeckConfig bool
	// RawDeckConfig, when set, replaces the generated legacy deck JSON.
	RawDeckConfig string
}

// Entry is a single file inside a package archive.
type Entry struct {
	Name string
	Data []byte
}

const (
	legacySchema = `
CREATE TABLE col (id integer primary key, crt integer not null default 0, mod integer not null default 0, decks text not null);
CREATE TABLE notes (id integer primary key, mid integer not null default 0, mod integer not null default 0, tags text not null, flds text not null);
CREATE TABLE cards (id integer primary key, nid integer not null, did integer not null, ord integer not null default 0);`
	currentSchema = `
CREATE TABLE col (id integer primary key, crt integer not null default 0, mod integer not null default 0, decks text not null default '');
CREATE TABLE decks (id integer primary key not null, name text not null, mtime_secs integer not null default 0, common blob, kind blob);
CREATE UNIQUE INDEX idx_decks_name ON decks (name);
CREATE TABLE notes (id integer primary key, mid integer not null default 0, mod integer not null default 0, tags text not null, flds text not null);
CREATE TABLE cards (id integer primary key, nid integer not null, did integer not null, ord integer not null default 0);`

	// unicaseDecksTable is the decks definition real collections carry. The unicase collation only
	// exists inside Anki, so it is patched into the schema after the rows are written.
	unicaseDecksTable = "CREATE TABLE decks (id integer primary key not null, name text not null COLLATE unicase, mtime_secs integer not null default 0, common blob, kind blob)"
)

// LegacyDatabase returns the bytes of a legacy-schema collection holding c.
func LegacyDatabase(t testing.TB, c Collection) []byte {
	t.Helper()
	return buildDatabase(t, legacySchema, func(db *gorm.DB) error {
		if c.OmitDeckConfig {
			return nil
		}
		blob := c.RawDeckConfig
		if blob == "" {
			blob = legacyDeckJSON(t, c.Decks)
		}
		return db.Exec("INSERT INTO col (id, decks) VALUES (1, ?)", blob).Error
	}, c.Notes)
}

// CurrentDatabase returns the bytes of a current-schema collection holding c.
func CurrentDatabase(t testing.TB, c Collection) []byte {
	t.Helper()
	return buildDatabase(t, currentSchema, func(db *gorm.DB) error {
		for _, deck := range c.Decks {
			if err := db.Exec("INSERT INTO decks (id, name) VALUES (?, ?)", deck.ID, deck.Name).Error; err != nil {
				return err
			}
		}
		return nil
	}, c.Notes, declareUnicaseCollation)
}

// LegacyPackage zips a legacy collection under collection.anki2.
func LegacyPackage(t testing.TB, c Collection) []byte {
	t.Helper()
	return Package(t, Entry{Name: "collection.anki2", Data: LegacyDatabase(t, c)})
}

// CurrentPackage zips a zstd-compressed current collection under collection.anki21b.
func CurrentPackage(t testing.TB, c Collection) []byte {
	t.Helper()
	return Package(t, Entry{Name: "collection.anki21b", Data: Compress(t, CurrentDatabase(t, c))})
}

// Package writes entries into a ZIP archive in the given order.
func Package(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for _, entry := range entries {
		file, err := writer.Create(entry.Name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", entry.Name, err)
		}
		if _, err := file.Write(entry.Data); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", entry.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to finalize zip: %v", err)
	}
	return buffer.Bytes()
}

// Compress zstd-encodes data the way current Anki exports do.
func Compress(t testing.TB, data []byte) []byte {
	t.Helper()
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("failed to construct zstd encoder: %v", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil)
}

func declareUnicaseCollation(db *gorm.DB) error {
	statements := []struct {
		sql  string
		args []any
	}{
		{sql: "PRAGMA writable_schema=ON"},
		{sql: "UPDATE sqlite_master SET sql = ? WHERE type = 'table' AND name = 'decks'", args: []any{unicaseDecksTable}},
		{sql: "PRAGMA writable_schema=OFF"},
	}
	for _, statement := range statements {
		if err := db.Exec(statement.sql, statement.args...).Error; err != nil {
			return err
		}
	}
	return nil
}

func buildDatabase(t testing.TB, schema string, seedDecks func(*gorm.DB) error, notes []Note, finalize ...func(*gorm.DB) error) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.anki2")

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, statement := range strings.Split(strings.TrimSpace(schema), ";") {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if err := db.Exec(statement).Error; err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	if err := seedDecks(db); err != nil {
		t.Fatalf("failed to seed decks: %v", err)
	}

	var cardID int64
	for _, note := range notes {
		flds := strings.Join(note.Fields, "\x1f")
		if err := db.Exec("INSERT INTO notes (id, tags, flds) VALUES (?, ?, ?)", note.ID, note.Tags, flds).Error; err != nil {
			t.Fatalf("failed to insert note %d: %v", note.ID, err)
		}
		for ord, deckID := range note.DeckIDs {
			cardID++
			if err := db.Exec("INSERT INTO cards (id, nid, did, ord) VALUES (?, ?, ?, ?)", cardID, note.ID, deckID, ord).Error; err != nil {
				t.Fatalf("failed to insert card for note %d: %v", note.ID, err)
			}
		}
	}

	for _, step := range finalize {
		if err := step(db); err != nil {
			t.Fatalf("failed to finalize schema: %v", err)
		}
	}

	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close sqlite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture database: %v", err)
	}
	return data
}

func legacyDeckJSON(t testing.TB, decks []Deck) string {
	t.Helper()
	payload := make(map[string]map[string]any, len(decks))
	for _, deck := range decks {
		payload[strconv.FormatInt(deck.ID, 10)] = map[string]any{
			"id":   deck.ID,
			"name": deck.Name,
			"dyn":  0,
		}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode deck config: %v", err)
	}
	return string(encoded)
}
