package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var (
	// ErrEmptyArtifact is returned for zero-length uploads.
	ErrEmptyArtifact = errors.New("artifact is empty")
	// ErrUnsupportedArtifact is returned for binary content with no known text layer.
	ErrUnsupportedArtifact = errors.New("unsupported artifact type")
)

type artifactKind int

const (
	kindUnknown artifactKind = iota
	kindPDF
	kindHTML
	kindImage
	kindText
)

// TextExtractor is the built-in OCR stage. It reads embedded text from PDF,
// HTML and plain-text artifacts; images have no text layer and yield "".
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) Extract(ctx context.Context, art Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(art.Content) == 0 {
		return "", ErrEmptyArtifact
	}
	switch detectKind(art) {
	case kindPDF:
		return extractPDF(art.Content)
	case kindHTML:
		doc, err := html.Parse(bytes.NewReader(art.Content))
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}
		return normalizeText(extractText(doc)), nil
	case kindImage:
		return "", nil
	case kindText:
		return normalizeText(string(art.Content)), nil
	default:
		return "", fmt.Errorf("%s: %w", art.Filename, ErrUnsupportedArtifact)
	}
}

func detectKind(art Artifact) artifactKind {
	ext := strings.ToLower(filepath.Ext(art.Filename))
	declared := strings.ToLower(strings.TrimSpace(art.ContentType))
	sniffed := http.DetectContentType(art.Content)
	switch {
	case ext == ".pdf" || strings.HasPrefix(declared, "application/pdf") || bytes.HasPrefix(art.Content, []byte("%PDF-")):
		return kindPDF
	case ext == ".html" || ext == ".htm" || strings.HasPrefix(declared, "text/html"):
		return kindHTML
	case strings.HasPrefix(sniffed, "image/") || strings.HasPrefix(declared, "image/"):
		return kindImage
	case strings.HasPrefix(sniffed, "text/") || utf8.Valid(art.Content):
		return kindText
	default:
		return kindUnknown
	}
}

// extractPDF converts parser panics into errors; the pdf package panics on
// broken cross-reference data.
func extractPDF(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		if pageText = normalizeText(pageText); pageText != "" {
			parts = append(parts, pageText)
		}
	}
	return strings.Join(parts, " "), nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
