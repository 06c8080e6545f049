// Package transcript parses diarized transcripts and groups consecutive
// lines of one speaker into turns.
//
// A transcript is a JSON array of records:
//
//	[{"speaker": "A", "text": "hi", "start": 0}, ...]
//
// start is the offset of the line from the beginning of the conversation in
// milliseconds. Records that do not match that shape are kept as malformed
// entries: they take no part in coalescing, but a speaker label they carry
// still counts as a participant.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNotAnArray is returned when the document is not a JSON array.
var ErrNotAnArray = errors.New("transcript: document is not a JSON array")

const recordSchemaURL = "kioku://transcript/record.json"

const recordSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["speaker", "text", "start"],
	"properties": {
		"speaker": {"type": "string", "pattern": "\\S"},
		"text":    {"type": "string", "minLength": 1},
		"start":   {"type": "number", "minimum": 0}
	}
}`

var recordSchema = jsonschema.MustCompileString(recordSchemaURL, recordSchemaJSON)

// Entry is one transcript line.
type Entry struct {
	Speaker string
	Text    string
	// Start is the offset from the conversation start in milliseconds.
	Start int64
	// Malformed marks a record that failed validation. Its Speaker is kept
	// when the record carried a usable one.
	Malformed bool
}

// Complete reports whether the entry takes part in coalescing.
func (e Entry) Complete() bool {
	return !e.Malformed && strings.TrimSpace(e.Speaker) != "" && e.Text != "" && e.Start >= 0
}

// Stats counts the records of a parsed document.
type Stats struct {
	Records int
	Skipped int
}

// Parse decodes a transcript document. Malformed records are returned with
// Malformed set and counted in Stats.Skipped; only a document that is not
// a JSON array, or is not JSON at all, is an error.
func Parse(r io.Reader) ([]Entry, Stats, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, Stats{}, fmt.Errorf("transcript: decode: %w", err)
	}
	items, ok := doc.([]any)
	if !ok {
		return nil, Stats{}, ErrNotAnArray
	}

	entries := make([]Entry, 0, len(items))
	st := Stats{Records: len(items)}
	for _, item := range items {
		e := toEntry(item)
		if e.Malformed {
			st.Skipped++
		}
		entries = append(entries, e)
	}
	return entries, st, nil
}

func toEntry(item any) Entry {
	obj, _ := item.(map[string]any)
	speaker, _ := obj["speaker"].(string)
	if strings.TrimSpace(speaker) == "" {
		speaker = ""
	}

	if err := recordSchema.Validate(item); err != nil {
		return Entry{Speaker: speaker, Malformed: true}
	}

	text, _ := obj["text"].(string)
	start, err := obj["start"].(json.Number).Float64()
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if err != nil || math.IsInf(start, 0) || start >= math.MaxInt64 {
		return Entry{Speaker: speaker, Malformed: true}
	}
	return Entry{Speaker: speaker, Text: text, Start: int64(math.Floor(start))}
}

// Speakers returns the distinct non-blank speaker labels of entries in order
// of first appearance, including labels of malformed entries.
func Speakers(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		if strings.TrimSpace(e.Speaker) == "" {
			continue
		}
		if _, ok := seen[e.Speaker]; ok {
			continue
		}
		seen[e.Speaker] = struct{}{}
		out = append(out, e.Speaker)
	}
	return out
}
