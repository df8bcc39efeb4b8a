/*
Package extract turns fetched gazette bundles into plain-text article records.

Two bundle kinds are supported: structured ZIP archives of INLABS article XML,
and fallback PDF documents with no per-article boundaries.
*/
package extract

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/types"
)

// Result is the outcome of extracting one bundle. Skipped counts malformed
// inner records that were dropped.
type Result struct {
	Records []types.Record
	Skipped int
}

// Extractor extracts records from a bundle's raw bytes. An error means the
// bundle as a whole could not be opened.
type Extractor interface {
	Extract(data []byte, filename string) (*Result, error)
}

// Set maps bundle kinds to their extractors.
type Set map[types.BundleKind]Extractor

// NewSet returns the default extractors for every bundle kind.
func NewSet(log logger.Logger) Set {
	return Set{
		types.KindArchive:  NewArchiveExtractor(log),
		types.KindDocument: NewDocumentExtractor(log),
	}
}

// For returns the extractor registered for kind.
func (s Set) For(kind types.BundleKind) (Extractor, error) {
	e, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("no extractor for bundle kind %q", kind)
	}
	return e, nil
}

// normalizeSpace collapses runs of whitespace and drops non-printable runes.
func normalizeSpace(s string) string {
	s = strings.ToValidUTF8(s, "")

	var sb strings.Builder
	sb.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
