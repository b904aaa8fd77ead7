// Package sourcemap models generated-to-original position mappings and
// encodes them as version 3 source maps.
//
// Lines and columns are zero-based. Columns count UTF-16 code units, which
// is what browsers use when they consume a map.
package sourcemap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Segment maps one generated position to a position in an original source.
type Segment struct {
	GenLine  int
	GenCol   int
	Source   int
	OrigLine int
	OrigCol  int
}

// Mapping is an ordered list of segments, non-decreasing in generated position.
type Mapping []Segment

// Sort orders the mapping by generated position.
func (m Mapping) Sort() {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].GenLine != m[j].GenLine {
			return m[i].GenLine < m[j].GenLine
		}
		return m[i].GenCol < m[j].GenCol
	})
}

// Sorted reports whether the mapping is non-decreasing in generated position.
func (m Mapping) Sorted() bool {
	for i := 1; i < len(m); i++ {
		a, b := m[i-1], m[i]
		if b.GenLine < a.GenLine || (b.GenLine == a.GenLine && b.GenCol < a.GenCol) {
			return false
		}
	}
	return true
}

// Find returns the segment covering a generated position: the last one on
// the same line that starts at or before col.
func (m Mapping) Find(line, col int) (Segment, bool) {
	i := sort.Search(len(m), func(i int) bool {
		s := m[i]
		return s.GenLine > line || (s.GenLine == line && s.GenCol > col)
	})
	if i == 0 {
		return Segment{}, false
	}
	s := m[i-1]
	if s.GenLine != line {
		return Segment{}, false
	}
	return s, true
}

// Lookup returns the original position of a generated position, carrying
// the distance past the covering segment's start into the original column.
// The result is only exact for mappings with a segment at every token.
func (m Mapping) Lookup(line, col int) (Segment, bool) {
	s, ok := m.Find(line, col)
	if !ok {
		return Segment{}, false
	}
	return Segment{
		GenLine:  line,
		GenCol:   col,
		Source:   s.Source,
		OrigLine: s.OrigLine,
		OrigCol:  s.OrigCol + (col - s.GenCol),
	}, true
}

// Compose resolves every segment of next (whose original positions refer to
// the output of prev) through prev, so the result points at prev's originals.
// A segment resolves to the original of the prev segment covering it, with
// no column extrapolation, since prev may be sparse. Segments that do not
// land inside prev's mapping are dropped.
func Compose(next, prev Mapping) Mapping {
	out := make(Mapping, 0, len(next))
	for _, s := range next {
		orig, ok := prev.Find(s.OrigLine, s.OrigCol)
		if !ok {
			continue
		}
		out = append(out, Segment{
			GenLine:  s.GenLine,
			GenCol:   s.GenCol,
			Source:   orig.Source,
			OrigLine: orig.OrigLine,
			OrigCol:  orig.OrigCol,
		})
	}
	return out
}

// Offset returns a copy shifted by lines and with every segment assigned to source.
func (m Mapping) Offset(lines, source int) Mapping {
	out := make(Mapping, len(m))
	for i, s := range m {
		s.GenLine += lines
		s.Source = source
		out[i] = s
	}
	return out
}

// Identity maps every token start of code to itself. A token starts at the
// first non-space character after whitespace and wherever the text switches
// between identifier characters and punctuation.
func Identity(code []byte) Mapping {
	var (
		m        Mapping
		line     int
		col      int
		prevKind = kindSpace
	)
	for i := 0; i < len(code); {
		r, size := utf8.DecodeRune(code[i:])
		if r == '\n' {
			line++
			col = 0
			prevKind = kindSpace
			i += size
			continue
		}
		k := classify(r)
		if k != kindSpace && (k != prevKind || k == kindPunct) {
			m = append(m, Segment{GenLine: line, GenCol: col, OrigLine: line, OrigCol: col})
		}
		prevKind = k
		col += Units(r)
		i += size
	}
	return m
}

const (
	kindSpace = iota
	kindWord
	kindPunct
)

func classify(r rune) int {
	switch {
	case r == ' ' || r == '\t' || r == '\r' || r == '\f' || r == '\v':
		return kindSpace
	case r == '_' || r == '$' || r >= 0x80 ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
		return kindWord
	}
	return kindPunct
}

// Units is the number of UTF-16 code units r occupies.
func Units(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// Column converts a byte offset within a line to a UTF-16 column.
func Column(line []byte, offset int) int {
	col := 0
	for i := 0; i < offset && i < len(line); {
		r, size := utf8.DecodeRune(line[i:])
		col += Units(r)
		i += size
	}
	return col
}

// Map is the JSON form of a version 3 source map.
type Map struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// EncodeMappings renders m as a base64 VLQ mappings string.
func EncodeMappings(m Mapping) string {
	var (
		b                           strings.Builder
		line                        int
		prevCol                     int
		prevSrc, prevLine, prevOrig int
		first                       = true
	)
	for _, s := range m {
		for line < s.GenLine {
			b.WriteByte(';')
			line++
			prevCol = 0
			first = true
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeVLQ(&b, s.GenCol-prevCol)
		writeVLQ(&b, s.Source-prevSrc)
		writeVLQ(&b, s.OrigLine-prevLine)
		writeVLQ(&b, s.OrigCol-prevOrig)
		prevCol, prevSrc, prevLine, prevOrig = s.GenCol, s.Source, s.OrigLine, s.OrigCol
	}
	return b.String()
}

// DecodeMappings parses a mappings string. Segments without a source are skipped.
func DecodeMappings(s string) (Mapping, error) {
	var (
		m                           Mapping
		line, col                   int
		prevSrc, prevLine, prevOrig int
	)
	for i := 0; i < len(s); {
		switch s[i] {
		case ';':
			line++
			col = 0
			i++
			continue
		case ',':
			i++
			continue
		}
		var fields [5]int
		n := 0
		for i < len(s) && s[i] != ',' && s[i] != ';' {
			if n == len(fields) {
				return nil, fmt.Errorf("%w: segment has more than %d fields", errInvalidVLQ, len(fields))
			}
			v, next, err := readVLQ(s, i)
			if err != nil {
				return nil, err
			}
			fields[n] = v
			n++
			i = next
		}
		col += fields[0]
		if n < 4 {
			continue
		}
		prevSrc += fields[1]
		prevLine += fields[2]
		prevOrig += fields[3]
		m = append(m, Segment{GenLine: line, GenCol: col, Source: prevSrc, OrigLine: prevLine, OrigCol: prevOrig})
	}
	return m, nil
}

// Parse decodes a JSON source map and its mappings.
func Parse(data []byte) (*Map, Mapping, error) {
	var sm Map
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, nil, fmt.Errorf("sourcemap: %w", err)
	}
	if sm.Version != 3 {
		return nil, nil, fmt.Errorf("sourcemap: unsupported version %d", sm.Version)
	}
	m, err := DecodeMappings(sm.Mappings)
	if err != nil {
		return nil, nil, err
	}
	return &sm, m, nil
}

// Marshal renders a source map with the given mapping. Map keys are emitted
// in struct order, so equal inputs produce equal bytes.
func Marshal(file string, sources []string, contents [][]byte, m Mapping) ([]byte, error) {
	sm := Map{
		Version:  3,
		File:     file,
		Sources:  sources,
		Names:    []string{},
		Mappings: EncodeMappings(m),
	}
	if contents != nil {
		sm.SourcesContent = make([]*string, len(contents))
		for i, c := range contents {
			s := string(c)
			sm.SourcesContent[i] = &s
		}
	}
	return json.Marshal(sm)
}

// DataURI returns the inline form used in a sourceMappingURL comment.
func DataURI(data []byte) string {
	return "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI reverses DataURI.
func DecodeDataURI(uri string) ([]byte, error) {
	const prefix = "base64,"
	i := strings.Index(uri, prefix)
	if !strings.HasPrefix(uri, "data:") || i < 0 {
		return nil, fmt.Errorf("sourcemap: not a base64 data URI")
	}
	return base64.StdEncoding.DecodeString(uri[i+len(prefix):])
}
