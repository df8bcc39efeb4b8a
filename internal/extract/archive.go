package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/shanehull/douclip/internal/logger"
	"github.com/shanehull/douclip/internal/types"
)

// maxEntryBytes bounds a single decompressed XML entry.
const maxEntryBytes = 32 << 20

// article mirrors the INLABS article XML. Only the fields used for matching
// and reporting are mapped.
type article struct {
	ID          string `xml:"id,attr"`
	Name        string `xml:"name,attr"`
	PubName     string `xml:"pubName,attr"`
	ArtType     string `xml:"artType,attr"`
	PubDate     string `xml:"pubDate,attr"`
	ArtCategory string `xml:"artCategory,attr"`
	PDFPage     string `xml:"pdfPage,attr"`
	Body        struct {
		Identifica string `xml:"Identifica"`
		Ementa     string `xml:"Ementa"`
		Titulo     string `xml:"Titulo"`
		SubTitulo  string `xml:"SubTitulo"`
		Texto      string `xml:"Texto"`
	} `xml:"body"`
}

// ArchiveExtractor reads a ZIP of article XML files. Each <article> becomes a
// record; a malformed entry is skipped and counted.
type ArchiveExtractor struct {
	log logger.Logger
}

func NewArchiveExtractor(log logger.Logger) *ArchiveExtractor {
	return &ArchiveExtractor{log: log}
}

func (e *ArchiveExtractor) Extract(data []byte, filename string) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filename, err)
	}

	res := &Result{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".xml") {
			continue
		}

		articles, err := readEntry(f)
		if err != nil {
			res.Skipped++
			e.log.Warn("Skipping malformed archive entry",
				zap.String("file", filename),
				zap.String("entry", f.Name),
				zap.Error(err),
			)
			continue
		}

		for _, a := range articles {
			rec := a.record(filename)
			if rec.Text == "" {
				continue
			}
			res.Records = append(res.Records, rec)
		}
	}

	e.log.Debug("Archive extracted",
		zap.String("file", filename),
		zap.Int("entries", len(zr.File)),
		zap.Int("records", len(res.Records)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func readEntry(f *zip.File) ([]article, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	return decodeArticles(io.LimitReader(rc, maxEntryBytes))
}

// decodeArticles collects every <article> element, whatever the root element
// is. Any syntax error discards the whole entry.
func decodeArticles(r io.Reader) ([]article, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var out []article
	sawElement := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawElement = true
		if start.Name.Local != "article" {
			continue
		}

		var a article
		if err := dec.DecodeElement(&a, &start); err != nil {
			return nil, fmt.Errorf("decode article: %w", err)
		}
		out = append(out, a)
	}

	if !sawElement {
		return nil, errors.New("no xml elements")
	}
	return out, nil
}

func (a article) record(filename string) types.Record {
	title := normalizeSpace(a.Body.Identifica)
	if title == "" {
		title = normalizeSpace(a.Name)
	}

	parts := []string{
		a.Body.Identifica,
		a.Body.Ementa,
		a.Body.Titulo,
		a.Body.SubTitulo,
		htmlToText(a.Body.Texto),
	}
	var sb strings.Builder
	for _, p := range parts {
		p = normalizeSpace(p)
		if p == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(p)
	}

	return types.Record{
		SourceFile:      filename,
		Section:         strings.TrimSpace(a.PubName),
		Organization:    normalizeSpace(a.ArtCategory),
		HasOrganization: true,
		Title:           title,
		Link:            strings.TrimSpace(a.PDFPage),
		Text:            sb.String(),
	}
}
