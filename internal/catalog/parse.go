// Package catalog parses the initiative catalog and keeps the current
// snapshot available to readers while the source file changes underneath.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// FieldCount is the number of columns every catalog row must carry.
const FieldCount = 6

// keyNamespace scopes the UUIDv5 keys derived for initiatives.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://virgin-initiatives/catalog"))

// Initiative is one catalog row.
type Initiative struct {
	// Index is the 1-based row position and the join key used by participation records.
	Index int `json:"index"`
	// Key stays the same when rows are reordered; derived from company, name and occurrence.
	Key          uuid.UUID `json:"key"`
	Company      string    `json:"company"`
	Name         string    `json:"initiative"`
	Challenge    string    `json:"challenge"`
	Solution     string    `json:"solution"`
	CallToAction string    `json:"callToAction"`
	Links        []string  `json:"links"`
}

// SkippedRow describes a record that was dropped during parsing.
type SkippedRow struct {
	Line   int    `json:"line"`
	Fields int    `json:"fields"`
	Reason string `json:"reason"`
}

// Parse reads delimited catalog text. The first record is the header and is
// discarded. Quoted fields may contain commas and newlines. Records that do not
// have exactly FieldCount fields, or that cannot be tokenized, are skipped and
// reported in Snapshot.Skipped; they never fail the parse.
func Parse(r io.Reader) (*Snapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	snap := &Snapshot{}
	occurrences := make(map[string]int)
	header := true

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				snap.Skipped = append(snap.Skipped, SkippedRow{Line: pe.StartLine, Fields: len(rec), Reason: pe.Err.Error()})
				header = false
				continue
			}
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		if header {
			header = false
			continue
		}
		if blank(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < FieldCount {
			snap.Skipped = append(snap.Skipped, SkippedRow{Line: line, Fields: len(rec), Reason: "too few fields"})
			continue
		}
		if len(rec) > FieldCount {
			snap.Skipped = append(snap.Skipped, SkippedRow{Line: line, Fields: len(rec), Reason: "too many fields"})
			continue
		}

		in := Initiative{
			Index:        len(snap.Initiatives) + 1,
			Company:      strings.TrimSpace(rec[0]),
			Name:         strings.TrimSpace(rec[1]),
			Challenge:    strings.TrimSpace(rec[2]),
			Solution:     strings.TrimSpace(rec[3]),
			CallToAction: strings.TrimSpace(rec[4]),
			Links:        SplitLinks(rec[5]),
		}
		ident := in.Company + "\x00" + in.Name
		occurrences[ident]++
		in.Key = uuid.NewSHA1(keyNamespace, []byte(fmt.Sprintf("%s\x00%d", ident, occurrences[ident])))

		snap.Initiatives = append(snap.Initiatives, in)
	}

	return snap, nil
}

// SplitLinks splits a newline-delimited links field, trimming each entry and
// dropping blanks.
func SplitLinks(field string) []string {
	links := []string{}
	for _, l := range strings.Split(strings.ReplaceAll(field, "\r\n", "\n"), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			links = append(links, l)
		}
	}
	return links
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
