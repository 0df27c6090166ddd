package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"

	// DefaultMinTextLength is the rune count below which a PDF is treated as scanned.
	DefaultMinTextLength = 100
)

// ErrUnsupportedType is returned for uploads that are not PDF, DOCX, JPEG or PNG.
var ErrUnsupportedType = errors.New("unsupported mime type")

// PDFText is the text layer of a PDF.
type PDFText struct {
	Text      string
	IsScanned bool
	PageCount int
}

// Image is one page image in reading order.
type Image struct {
	Data      []byte
	MediaType string
}

// Content is everything extracted from an uploaded contract.
type Content struct {
	Text      string
	Images    []Image
	PageCount int
}

// Extractor turns uploaded bytes into analyzable content.
type Extractor struct {
	Rasterizer   Rasterizer
	MaxScanPages int
	// MinTextLength should match the analyzer's text/image cutoff.
	MinTextLength int
}

// Extract reads text from PDF and DOCX uploads. Scanned PDFs are rasterized
// when a Rasterizer is configured; JPEG and PNG uploads become a single page image.
func (e Extractor) Extract(ctx context.Context, data []byte, mimeType, fileName string) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	switch normalizeMimeType(mimeType, fileName, data) {
	case MimePDF:
		parsed, err := ExtractPDFText(data, e.MinTextLength)
		if err != nil {
			return Content{}, fmt.Errorf("extract pdf: %w", err)
		}
		content := Content{Text: parsed.Text, PageCount: parsed.PageCount}
		if parsed.IsScanned && e.Rasterizer != nil {
			images, err := e.Rasterizer.RasterizePDF(ctx, data, e.maxPages())
			if err != nil {
				return Content{}, fmt.Errorf("rasterize pdf: %w", err)
			}
			content.Images = images
		}
		return content, nil
	case MimeDOCX:
		text, err := ExtractDOCX(data)
		if err != nil {
			return Content{}, fmt.Errorf("extract docx: %w", err)
		}
		return Content{Text: text, PageCount: 1}, nil
	case MimeJPEG, MimePNG:
		if len(data) == 0 {
			return Content{}, errors.New("empty image upload")
		}
		return Content{
			Images:    []Image{{Data: data, MediaType: normalizeMimeType(mimeType, fileName, data)}},
			PageCount: 1,
		}, nil
	default:
		return Content{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

func (e Extractor) maxPages() int {
	if e.MaxScanPages <= 0 {
		return 10
	}
	return e.MaxScanPages
}

// ExtractPDFText reads the text layer page by page. Text shorter than
// minTextLength runes marks the PDF as scanned; zero uses DefaultMinTextLength.
func ExtractPDFText(data []byte, minTextLength int) (PDFText, error) {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	if len(data) == 0 {
		return PDFText{}, errors.New("empty pdf data")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PDFText{}, err
	}

	pages := reader.NumPage()
	var buf strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return PDFText{}, fmt.Errorf("page %d: %w", i, err)
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	clean := CleanText(buf.String())
	return PDFText{
		Text:      clean,
		IsScanned: utf8.RuneCountInString(clean) < minTextLength,
		PageCount: pages,
	}, nil
}

// ExtractDOCX returns the paragraph text of a DOCX document.
func ExtractDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New("document.xml file not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return CleanText(stripDocxXML(raw)), nil
}

func stripDocxXML(raw []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return string(raw)
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				buf.WriteString("\t")
			}
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "br" {
				buf.WriteString("\n")
			}
		}
	}
	return buf.String()
}

var (
	spaceRun     = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalises whitespace and drops control characters left by PDF text layers.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = spaceRun.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func normalizeMimeType(mimeType, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch clean {
	case "image/jpg", "image/pjpeg":
		return MimeJPEG
	case "application/zip", "application/octet-stream", "":
	default:
		return clean
	}

	if isDOCXZip(data) {
		return MimeDOCX
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".jpg", ".jpeg":
		return MimeJPEG
	case ".png":
		return MimePNG
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return MimePDF
	}
	return clean
}

func isDOCXZip(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return true
		}
	}
	return false
}
