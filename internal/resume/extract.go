// Package resume handles resume intake: extracting text from uploaded
// documents through an ordered extractor chain, and storing the extracted
// text behind signed tokens that later runs redeem.
package resume

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnparseable means no extractor in the chain could produce text.
var ErrUnparseable = errors.New("resume: no extractor could parse the document")

// Extractor turns raw upload bytes into plain text.
type Extractor interface {
	Name() string
	Extract(data []byte) (string, error)
}

// Chain tries extractors in order until one succeeds.
type Chain []Extractor

// DefaultChain extracts PDF first, then falls back to plain text.
func DefaultChain() Chain {
	return Chain{PDFExtractor{}, TextExtractor{}}
}

// Extract runs the chain. The first extractor to return non-empty text
// wins; if all fail the error wraps ErrUnparseable with each attempt.
func (c Chain) Extract(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrUnparseable)
	}

	var attempts []string
	for _, ex := range c {
		text, err := ex.Extract(data)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", ex.Name(), err))
			continue
		}
		return text, nil
	}
	return "", fmt.Errorf("%w (%s)", ErrUnparseable, strings.Join(attempts, "; "))
}

// PDFExtractor reads text from PDF documents.
type PDFExtractor struct{}

// Name identifies the extractor in degradation messages.
func (PDFExtractor) Name() string { return "pdf" }

// Extract parses the PDF and concatenates its text content.
func (PDFExtractor) Extract(data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("not a pdf document")
	}

	// The parser panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("parser panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}

	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", fmt.Errorf("no text content")
	}
	return out, nil
}

// TextExtractor accepts UTF-8 plain-text uploads.
type TextExtractor struct{}

// Name identifies the extractor in degradation messages.
func (TextExtractor) Name() string { return "text" }

// Extract validates the bytes as readable text. A broken PDF must not
// leak its raw bytes through this fallback.
func (TextExtractor) Extract(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("pdf document, not plain text")
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("not valid utf-8")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text content")
	}
	if binaryish(data) {
		return "", fmt.Errorf("binary content")
	}
	return text, nil
}

// binaryish reports whether the data looks like a binary format that
// happens to be valid UTF-8.
func binaryish(data []byte) bool {
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	var control int
	for _, b := range sample {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return control*50 > len(sample)
}
