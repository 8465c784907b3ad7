package apkg

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	// EntryCurrentCompressed is the zstd-compressed current-schema collection.
	EntryCurrentCompressed = "collection.anki21b"
	// EntryLegacyCurrent is the uncompressed legacy collection written by Anki 2.1.
	EntryLegacyCurrent = "collection.anki21"
	// EntryLegacyOriginal is the original uncompressed legacy collection.
	EntryLegacyOriginal = "collection.anki2"
)

type entryCandidate struct {
	name       string
	variant    schemaVariant
	compressed bool
}

// entryCandidates is ordered by priority; the first entry present in the archive wins.
var entryCandidates = []entryCandidate{
	{name: EntryCurrentCompressed, variant: schemaCurrent, compressed: true},
	{name: EntryLegacyCurrent, variant: schemaLegacy},
	{name: EntryLegacyOriginal, variant: schemaLegacy},
}

type collectionEntry struct {
	name       string
	variant    schemaVariant
	compressed bool
	data       []byte
}

func readCollectionEntry(data []byte) (collectionEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return collectionEntry{}, newError(opReadArchive, ErrCorruptArchive, err)
	}

	files := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		if _, seen := files[file.Name]; !seen {
			files[file.Name] = file
		}
	}

	for _, candidate := range entryCandidates {
		file, ok := files[candidate.name]
		if !ok {
			continue
		}
		payload, err := readZipFile(file)
		if err != nil {
			return collectionEntry{}, newError(opReadArchive, ErrCorruptArchive, err)
		}
		return collectionEntry{
			name:       candidate.name,
			variant:    candidate.variant,
			compressed: candidate.compressed,
			data:       payload,
		}, nil
	}

	return collectionEntry{}, newError(opReadArchive, ErrMissingCollection, nil)
}

func readZipFile(file *zip.File) ([]byte, error) {
	handle, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer handle.Close()

	payload, err := io.ReadAll(handle)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Name, err)
	}
	return payload, nil
}

// decodePayload returns raw SQLite bytes for the entry. maxBytes bounds the decoded size of
// compressed payloads; zero leaves the decoder default in place.
func decodePayload(entry collectionEntry, maxBytes uint64) ([]byte, error) {
	if !entry.compressed {
		return entry.data, nil
	}

	options := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if maxBytes > 0 {
		options = append(options, zstd.WithDecoderMaxMemory(maxBytes))
	}
	decoder, err := zstd.NewReader(nil, options...)
	if err != nil {
		return nil, newError(opDecodePayload, ErrDecompressionFailed, err)
	}
	defer decoder.Close()

	decoded, err := decoder.DecodeAll(entry.data, nil)
	if err != nil {
		return nil, newError(opDecodePayload, ErrDecompressionFailed, err)
	}
	if len(decoded) == 0 {
		return nil, newError(opDecodePayload, ErrDecompressionFailed, fmt.Errorf("%s decoded to zero bytes", entry.name))
	}
	return decoded, nil
}
