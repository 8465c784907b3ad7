package apkg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/apkg/apkgtest"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestParser(t *testing.T) (*Parser, string) {
	t.Helper()
	tempDir := t.TempDir()
	return NewParser(ParserConfig{TempDir: tempDir, Logger: zap.NewNop()}), tempDir
}

func assertNoScratchLeft(t *testing.T, tempDir string) {
	t.Helper()
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("failed to list temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be empty, found %d entries", len(entries))
	}
}

func assertConsistent(t *testing.T, result ParseResult) {
	t.Helper()
	if len(result.NotesByDeck) != len(result.Decks) {
		t.Fatalf("deck list and note mapping disagree: %d decks, %d mapped", len(result.Decks), len(result.NotesByDeck))
	}
	for _, deck := range result.Decks {
		if deck.NoteCount == 0 {
			t.Fatalf("deck %d (%s) has zero notes", deck.ID, deck.Name)
		}
		if got := len(result.NotesByDeck[deck.ID]); got != deck.NoteCount {
			t.Fatalf("deck %d: note count %d, notes %d", deck.ID, deck.NoteCount, got)
		}
	}
}

func sampleCollection() apkgtest.Collection {
	return apkgtest.Collection{
		Decks: []apkgtest.Deck{
			{ID: 1, Name: "Default"},
			{ID: 2, Name: "Languages::Spanish"},
			{ID: 5, Name: "Languages::French"},
			{ID: 9, Name: "Music"},
		},
		Notes: []apkgtest.Note{
			{ID: 1001, Fields: []string{"<b>hola</b>", "hello"}, Tags: " greeting ", DeckIDs: []int64{2}},
			{ID: 1002, Fields: []string{"bonjour", "hello<br>hi"}, DeckIDs: []int64{5}},
			{ID: 1003, Fields: []string{"shared", "note"}, DeckIDs: []int64{5, 2, 9}},
			{ID: 1004, Fields: []string{"<div></div>", "<br/>"}, DeckIDs: []int64{9}},
			{ID: 1005, Fields: []string{"lonely"}, DeckIDs: []int64{9}},
			{ID: 1006, Fields: []string{"ghost", "deck"}, DeckIDs: []int64{42}},
		},
	}
}

func TestParseLegacyPackage(t *testing.T) {
	parser, tempDir := newTestParser(t)

	result, err := parser.Parse(context.Background(), bytes.NewReader(apkgtest.LegacyPackage(t, sampleCollection())))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	assertConsistent(t, result)
	assertNoScratchLeft(t, tempDir)

	wantDecks := []Deck{
		{ID: 5, Name: "Languages::French", NoteCount: 1},
		{ID: 2, Name: "Languages::Spanish", NoteCount: 2},
		{ID: 9, Name: "Music", NoteCount: 1},
	}
	if diff := cmp.Diff(wantDecks, result.Decks); diff != "" {
		t.Fatalf("unexpected decks (-want +got):\n%s", diff)
	}

	wantSpanish := []Note{
		{Front: "hola", Back: "hello", Tags: "greeting"},
		{Front: "shared", Back: "note"},
	}
	if diff := cmp.Diff(wantSpanish, result.NotesByDeck[2]); diff != "" {
		t.Fatalf("unexpected spanish notes (-want +got):\n%s", diff)
	}
	if got := result.NotesByDeck[5][0].Back; got != "hello\nhi" {
		t.Fatalf("expected line break to become newline, got %q", got)
	}
	if got := result.NotesByDeck[9]; len(got) != 1 || got[0].Front != "lonely" || got[0].Back != "" {
		t.Fatalf("unexpected music notes: %#v", got)
	}
}

func TestParseCurrentPackageRewritesHierarchySeparator(t *testing.T) {
	parser, tempDir := newTestParser(t)
	collection := apkgtest.Collection{
		Decks: []apkgtest.Deck{
			{ID: 1, Name: "Default"},
			{ID: 1700000000001, Name: "Languages\x1fSpanish\x1fVerbs"},
		},
		Notes: []apkgtest.Note{
			{ID: 1, Fields: []string{"comer", "to eat"}, Tags: "verbs", DeckIDs: []int64{1700000000001}},
		},
	}

	result, err := parser.Parse(context.Background(), bytes.NewReader(apkgtest.CurrentPackage(t, collection)))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	assertConsistent(t, result)
	assertNoScratchLeft(t, tempDir)

	want := []Deck{{ID: 1700000000001, Name: "Languages::Spanish::Verbs", NoteCount: 1}}
	if diff := cmp.Diff(want, result.Decks); diff != "" {
		t.Fatalf("unexpected decks (-want +got):\n%s", diff)
	}
}

func TestParseAssignsSharedNoteToLowestDeck(t *testing.T) {
	for _, build := range []func(testing.TB, apkgtest.Collection) []byte{apkgtest.LegacyPackage, apkgtest.CurrentPackage} {
		parser, _ := newTestParser(t)
		collection := apkgtest.Collection{
			Decks: []apkgtest.Deck{{ID: 2, Name: "Two"}, {ID: 5, Name: "Five"}, {ID: 9, Name: "Nine"}},
			Notes: []apkgtest.Note{{ID: 1, Fields: []string{"front", "back"}, DeckIDs: []int64{5, 2, 9}}},
		}
		result, err := parser.Parse(context.Background(), bytes.NewReader(build(t, collection)))
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		if len(result.Decks) != 1 || result.Decks[0].ID != 2 {
			t.Fatalf("expected note to be owned by deck 2, got %#v", result.Decks)
		}
	}
}

func TestParsePrefersCompressedEntry(t *testing.T) {
	parser, _ := newTestParser(t)
	current := apkgtest.Collection{
		Decks: []apkgtest.Deck{{ID: 3, Name: "Current"}},
		Notes: []apkgtest.Note{{ID: 1, Fields: []string{"new", "schema"}, DeckIDs: []int64{3}}},
	}
	legacy := apkgtest.Collection{
		Decks: []apkgtest.Deck{{ID: 1, Name: "Default"}},
		Notes: []apkgtest.Note{{ID: 1, Fields: []string{"Please update to the latest Anki version"}, DeckIDs: []int64{1}}},
	}
	data := apkgtest.Package(t,
		apkgtest.Entry{Name: EntryLegacyOriginal, Data: apkgtest.LegacyDatabase(t, legacy)},
		apkgtest.Entry{Name: EntryCurrentCompressed, Data: apkgtest.Compress(t, apkgtest.CurrentDatabase(t, current))},
	)

	result, err := parser.Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(result.Decks) != 1 || result.Decks[0].Name != "Current" {
		t.Fatalf("expected compressed collection to win, got %#v", result.Decks)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	parser, tempDir := newTestParser(t)
	data := apkgtest.LegacyPackage(t, sampleCollection())

	first, err := parser.Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("first parse failed: %v", err)
	}
	second, err := parser.Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second parse failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("parse results differ (-first +second):\n%s", diff)
	}
	assertNoScratchLeft(t, tempDir)
}

func TestParseLegacyDeckWithoutIDUsesKey(t *testing.T) {
	parser, _ := newTestParser(t)
	collection := apkgtest.Collection{
		RawDeckConfig: `{"7": {"name": "Keyed"}, "8": {"id": "8", "name": "Quoted"}}`,
		Notes: []apkgtest.Note{
			{ID: 1, Fields: []string{"a", "b"}, DeckIDs: []int64{7}},
			{ID: 2, Fields: []string{"c", "d"}, DeckIDs: []int64{8}},
		},
	}
	result, err := parser.Parse(context.Background(), bytes.NewReader(apkgtest.LegacyPackage(t, collection)))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	want := []Deck{{ID: 7, Name: "Keyed", NoteCount: 1}, {ID: 8, Name: "Quoted", NoteCount: 1}}
	if diff := cmp.Diff(want, result.Decks); diff != "" {
		t.Fatalf("unexpected decks (-want +got):\n%s", diff)
	}
}

func TestParseFailures(t *testing.T) {
	testCases := []struct {
		name     string
		data     func(t *testing.T) []byte
		wantKind error
	}{
		{
			name: "missing-collection",
			data: func(t *testing.T) []byte {
				return apkgtest.Package(t, apkgtest.Entry{Name: "media", Data: []byte("{}")})
			},
			wantKind: ErrMissingCollection,
		},
		{
			name:     "corrupt-archive",
			data:     func(t *testing.T) []byte { return []byte("PK but not really") },
			wantKind: ErrCorruptArchive,
		},
		{
			name: "truncated-zstd",
			data: func(t *testing.T) []byte {
				compressed := apkgtest.Compress(t, apkgtest.CurrentDatabase(t, sampleCollection()))
				return apkgtest.Package(t, apkgtest.Entry{Name: EntryCurrentCompressed, Data: compressed[:len(compressed)/3]})
			},
			wantKind: ErrDecompressionFailed,
		},
		{
			name: "missing-deck-config",
			data: func(t *testing.T) []byte {
				collection := sampleCollection()
				collection.OmitDeckConfig = true
				return apkgtest.LegacyPackage(t, collection)
			},
			wantKind: ErrMissingDeckConfig,
		},
		{
			name: "malformed-deck-json",
			data: func(t *testing.T) []byte {
				collection := sampleCollection()
				collection.RawDeckConfig = `{"1": {"id": 1, "name": "Default"`
				return apkgtest.LegacyPackage(t, collection)
			},
			wantKind: ErrMalformedDeckData,
		},
		{
			name: "non-numeric-deck-id",
			data: func(t *testing.T) []byte {
				collection := sampleCollection()
				collection.RawDeckConfig = `{"abc": {"name": "Broken"}}`
				return apkgtest.LegacyPackage(t, collection)
			},
			wantKind: ErrMalformedDeckData,
		},
		{
			name: "legacy-entry-without-col-table",
			data: func(t *testing.T) []byte {
				return apkgtest.Package(t, apkgtest.Entry{Name: EntryLegacyCurrent, Data: apkgtest.CurrentDatabase(t, sampleCollection())})
			},
			wantKind: ErrMissingDeckConfig,
		},
		{
			name: "not-a-database",
			data: func(t *testing.T) []byte {
				return apkgtest.Package(t, apkgtest.Entry{Name: EntryLegacyOriginal, Data: bytes.Repeat([]byte("garbage!"), 128)})
			},
			wantKind: ErrUnreadableCollection,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			parser, tempDir := newTestParser(t)
			result, err := parser.Parse(context.Background(), bytes.NewReader(testCase.data(t)))
			if !errors.Is(err, testCase.wantKind) {
				t.Fatalf("expected %v, got %v", testCase.wantKind, err)
			}
			if len(result.Decks) != 0 || result.NotesByDeck != nil {
				t.Fatalf("expected no partial result, got %#v", result)
			}
			assertNoScratchLeft(t, tempDir)
		})
	}
}

func TestParseRejectsOversizedPackage(t *testing.T) {
	tempDir := t.TempDir()
	parser := NewParser(ParserConfig{TempDir: tempDir, MaxPackageBytes: 64})
	_, err := parser.Parse(context.Background(), bytes.NewReader(apkgtest.LegacyPackage(t, sampleCollection())))
	if !errors.Is(err, ErrPackageTooLarge) {
		t.Fatalf("expected package too large error, got %v", err)
	}
	assertNoScratchLeft(t, tempDir)
}

func TestParseHonoursCanceledContext(t *testing.T) {
	parser, tempDir := newTestParser(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := parser.Parse(ctx, bytes.NewReader(apkgtest.LegacyPackage(t, sampleCollection()))); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	assertNoScratchLeft(t, tempDir)
}

func TestParseFileReadsFromDisk(t *testing.T) {
	parser, _ := newTestParser(t)
	path := filepath.Join(t.TempDir(), "deck.apkg")
	if err := os.WriteFile(path, apkgtest.LegacyPackage(t, sampleCollection()), 0o600); err != nil {
		t.Fatalf("failed to write package: %v", err)
	}

	result, err := parser.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if result.TotalNotes() != 4 {
		t.Fatalf("expected four notes, got %d", result.TotalNotes())
	}
}

func TestParseLogsFailingOperation(t *testing.T) {
	testCases := []struct {
		name          string
		data          func(t *testing.T) []byte
		wantOperation string
	}{
		{
			name: "deck load",
			data: func(t *testing.T) []byte {
				collection := sampleCollection()
				collection.OmitDeckConfig = true
				return apkgtest.LegacyPackage(t, collection)
			},
			wantOperation: opLoadDecks,
		},
		{
			name: "materialize",
			data: func(t *testing.T) []byte {
				return apkgtest.Package(t, apkgtest.Entry{Name: EntryLegacyOriginal, Data: bytes.Repeat([]byte("garbage!"), 128)})
			},
			wantOperation: opMaterialize,
		},
		{
			name: "archive",
			data: func(t *testing.T) []byte {
				return apkgtest.Package(t, apkgtest.Entry{Name: "media", Data: []byte("{}")})
			},
			wantOperation: opReadArchive,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			parser := NewParser(ParserConfig{TempDir: t.TempDir(), Logger: zap.New(core)})

			if _, err := parser.Parse(context.Background(), bytes.NewReader(testCase.data(t))); err == nil {
				t.Fatalf("expected parse failure")
			}

			failures := logs.FilterMessage("apkg parse failed").All()
			if len(failures) != 1 {
				t.Fatalf("expected one failure log, got %d", len(failures))
			}
			if got := failures[0].ContextMap()["operation"]; got != testCase.wantOperation {
				t.Fatalf("unexpected operation field: got %v, want %s", got, testCase.wantOperation)
			}
		})
	}
}
