package extract

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/types"
)

// DocumentExtractor reads a fallback PDF edition. The whole document becomes a
// single record without organization metadata.
type DocumentExtractor struct {
	log logger.Logger
}

func NewDocumentExtractor(log logger.Logger) *DocumentExtractor {
	return &DocumentExtractor{log: log}
}

func (e *DocumentExtractor) Extract(data []byte, filename string) (res *Result, err error) {
	// pdfcpu panics on some damaged cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("parse pdf %s: %v", filename, r)
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("parse pdf %s: %w", filename, err)
	}

	var pages []string
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if text := pageText(ctx, pageNr); text != "" {
			pages = append(pages, text)
		}
	}

	text := normalizeSpace(strings.Join(pages, " "))
	if text == "" {
		e.log.Warn("PDF has no extractable text",
			zap.String("file", filename),
			zap.Int("pages", ctx.PageCount),
		)
		return &Result{}, nil
	}

	e.log.Debug("Document extracted",
		zap.String("file", filename),
		zap.Int("pages", ctx.PageCount),
		zap.Int("chars", len(text)),
	)

	return &Result{Records: []types.Record{{
		SourceFile: filename,
		Title:      filename,
		Text:       text,
	}}}, nil
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromContentStream(data)
}


// textFromContentStream pulls the string operands of the text-showing
// operators (Tj, TJ, ', ") out of a decoded page content stream. Operators
// are recognised wherever they sit, so single-line streams work too.
func textFromContentStream(data []byte) string {
	var (
		sb       strings.Builder
		operands []string
		inArray  bool
	)

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isPDFSpace(c):
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			raw, next := readLiteral(data, i)
			operands = append(operands, decodePDFString(raw))
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] == '<',
			c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			end := bytes.IndexByte(data[i+1:], '>')
			if end < 0 {
				i = len(data)
				continue
			}
			operands = append(operands, decodeHexString(data[i+1:i+1+end]))
			i += end + 2
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case c == '/':
			i = skipRegular(data, i+1)
		case isPDFDelimiter(c):
			i++
		default:
			next := skipRegular(data, i)
			tok := string(data[i:next])
			i = next

			if isPDFNumber(tok) {
				// Large negative TJ adjustments separate words.
				if inArray {
					if v, err := strconv.ParseFloat(tok, 64); err == nil && v <= -200 {
						operands = append(operands, " ")
					}
				}
				continue
			}

			switch tok {
			case "Tj", "TJ":
				writeOperands(&sb, operands)
			case "'", `"`:
				sb.WriteByte('\n')
				writeOperands(&sb, operands)
			case "Td", "TD", "Tm":
				sb.WriteByte(' ')
			case "T*", "ET":
				sb.WriteByte('\n')
			case "ID":
				i = skipInlineImage(data, i)
			}
			operands = operands[:0]
			inArray = false
		}
	}

	return normalizeSpace(sb.String())
}

func writeOperands(sb *strings.Builder, operands []string) {
	for _, s := range operands {
		sb.WriteString(s)
	}
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func skipRegular(data []byte, i int) int {
	for i < len(data) && !isPDFSpace(data[i]) && !isPDFDelimiter(data[i]) {
		i++
	}
	return i
}

func isPDFNumber(tok string) bool {
	digits := false
	for i := 0; i < len(tok); i++ {
		switch c := tok[i]; {
		case c >= '0' && c <= '9':
			digits = true
		case c == '+', c == '-', c == '.':
		default:
			return false
		}
	}
	return digits
}

// readLiteral returns the body of the literal string opening at data[start]
// and the index just past its closing parenthesis. Balanced parentheses
// nest.
func readLiteral(data []byte, start int) ([]byte, int) {
	depth := 0
	for i := start; i < len(data); i++ {
		switch data[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return data[start+1 : i], i + 1
			}
		}
	}
	return data[start+1:], len(data)
}

// skipInlineImage jumps over the binary payload between ID and EI.
func skipInlineImage(data []byte, i int) int {
	for j := i + 1; j+1 < len(data); j++ {
		if data[j] == 'E' && data[j+1] == 'I' && isPDFSpace(data[j-1]) &&
			(j+2 == len(data) || isPDFSpace(data[j+2])) {
			return j + 2
		}
	}
	return len(data)
}

// decodePDFString resolves the escape sequences of a PDF literal string and
// decodes the resulting bytes.
func decodePDFString(raw []byte) string {
	return decodeTextBytes(unescapeLiteral(raw))
}

func unescapeLiteral(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 == len(raw) {
			out = append(out, c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b', 'f':
		case '\n':
		case '\r':
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case '0', '1', '2', '3', '4', '5', '6', '7':
			val := 0
			for n := 0; n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7'; n++ {
				val = val*8 + int(raw[i]-'0')
				i++
			}
			i--
			out = append(out, byte(val&0xff))
		default:
			out = append(out, raw[i])
		}
	}
	return out
}

func decodeHexString(raw []byte) string {
	out := make([]byte, 0, len(raw)/2+1)
	var hi byte
	half := false
	for _, c := range raw {
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			continue
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return decodeTextBytes(out)
}

// decodeTextBytes decodes string bytes as UTF-16BE when they carry a byte
// order mark, as two-byte codes when every high byte is zero, and as
// WinAnsi (Windows-1252) otherwise.
func decodeTextBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		if s, err := xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(b); err == nil {
			return string(s)
		}
	}

	if len(b) >= 2 && len(b)%2 == 0 && highBytesZero(b) {
		var sb strings.Builder
		for i := 1; i < len(b); i += 2 {
			sb.WriteRune(charmap.Windows1252.DecodeByte(b[i]))
		}
		return sb.String()
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(charmap.Windows1252.DecodeByte(c))
	}
	return sb.String()
}

func highBytesZero(b []byte) bool {
	for i := 0; i < len(b); i += 2 {
		if b[i] != 0 {
			return false
		}
	}
	return true
}
