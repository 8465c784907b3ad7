package main

import (
	"encoding/json"
	"io"
)

// writeJSON prints v indented. Card text keeps its <, > and & unescaped.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
