package parser

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/smallbiznis/finledger/internal/csvimport/domain"
)

const (
	DelimiterAuto      = "auto"
	DelimiterComma     = ","
	DelimiterSemicolon = ";"
)

// Document streams the records of one CSV text after its header. A record never
// spans more than one physical line, so an unbalanced quote only spoils its own line.
type Document struct {
	Header    []string
	Delimiter rune

	rest string
	line int
}

// NewDocument strips a BOM, settles the delimiter and reads the header record.
// delimiter is one of auto, "," or ";".
func NewDocument(text, delimiter string) (*Document, error) {
	text = strings.TrimPrefix(text, "\ufeff")

	headerLine, ok := firstNonBlankLine(text)
	if !ok {
		return nil, domain.ErrEmptyDocument
	}

	doc := &Document{
		Delimiter: resolveDelimiter(headerLine, delimiter),
		rest:      text,
	}
	for {
		raw, _, ok := doc.nextLine()
		if !ok {
			return nil, domain.ErrEmptyDocument
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		record := splitLine(raw, doc.Delimiter)
		doc.Header = make([]string, len(record))
		for i, cell := range record {
			doc.Header[i] = cleanCell(cell)
		}
		return doc, nil
	}
}

// DelimiterString renders the delimiter for reports.
func (d *Document) DelimiterString() string {
	return string(d.Delimiter)
}

// Next returns the next non-blank record and its 1-based source line.
// It returns io.EOF when the document is exhausted.
func (d *Document) Next() ([]string, int, error) {
	for {
		raw, line, ok := d.nextLine()
		if !ok {
			return nil, 0, io.EOF
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		return splitLine(raw, d.Delimiter), line, nil
	}
}

func (d *Document) nextLine() (string, int, bool) {
	if d.rest == "" {
		return "", 0, false
	}
	raw, rest, _ := strings.Cut(d.rest, "\n")
	d.rest = rest
	d.line++
	return strings.TrimSuffix(raw, "\r"), d.line, true
}

// splitLine splits one physical line. Quoted delimiters are honoured; a line the
// CSV reader rejects falls back to a plain split on the delimiter.
func splitLine(raw string, comma rune) []string {
	reader := csv.NewReader(strings.NewReader(raw))
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	record, err := reader.Read()
	if err == nil {
		return record
	}

	parts := strings.Split(raw, string(comma))
	for i, part := range parts {
		parts[i] = cleanCell(part)
	}
	return parts
}

func resolveDelimiter(headerLine, configured string) rune {
	switch strings.TrimSpace(configured) {
	case DelimiterSemicolon:
		return ';'
	case DelimiterComma:
		return ','
	}
	return sniffDelimiter(headerLine)
}

// sniffDelimiter picks ';' only when the header has one and no comma outside quotes.
func sniffDelimiter(headerLine string) rune {
	inQuotes := false
	semicolons, commas := 0, 0
	for _, r := range headerLine {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ';':
			if !inQuotes {
				semicolons++
			}
		case ',':
			if !inQuotes {
				commas++
			}
		}
	}
	if semicolons > 0 && commas == 0 {
		return ';'
	}
	return ','
}

func firstNonBlankLine(text string) (string, bool) {
	for text != "" {
		var line string
		line, text, _ = strings.Cut(text, "\n")
		if strings.TrimSpace(line) != "" {
			return line, true
		}
	}
	return "", false
}

func cleanCell(cell string) string {
	cell = strings.TrimSpace(cell)
	cell = strings.Trim(cell, `"'`)
	return strings.TrimSpace(cell)
}
