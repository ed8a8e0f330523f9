// Package pdf implements the document transform operations: merging,
// structural rewrite and text watermarking. All operations are stateless
// given their inputs and publish output atomically: they write to a
// temporary sibling path and rename only after the write succeeded, so a
// partially written result is never visible under the final path.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ricfalco/pdfmate/internal/validate"
)

var (
	// ErrInsufficientInput means a merge was requested with fewer than
	// two source documents.
	ErrInsufficientInput = errors.New("need at least two documents to merge")

	// ErrSourceNotFound means a source path does not exist.
	ErrSourceNotFound = errors.New("source document not found")
)

// RenderError wraps a failure to read or render a malformed document.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Position selects the watermark layout on each page.
type Position string

const (
	PositionCenter   Position = "center"
	PositionTop      Position = "top"
	PositionBottom   Position = "bottom"
	PositionDiagonal Position = "diagonal"
	PositionCorners  Position = "corners"
)

// ParsePosition maps a token to a Position, falling back to center for
// anything unrecognized.
func ParsePosition(s string) Position {
	switch Position(s) {
	case PositionTop, PositionBottom, PositionDiagonal, PositionCorners:
		return Position(s)
	default:
		return PositionCenter
	}
}

// Processor runs document transforms with a shared pdfcpu configuration.
type Processor struct {
	conf *model.Configuration
}

func NewProcessor() *Processor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Processor{conf: conf}
}

// Merge concatenates the pages of sources, in order, into output.
func (p *Processor) Merge(ctx context.Context, sources []string, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(sources) < 2 {
		return ErrInsufficientInput
	}
	for _, src := range sources {
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
	}
	tmp := output + ".tmp"
	defer os.Remove(tmp)
	if err := api.MergeCreateFile(sources, tmp, false, p.conf); err != nil {
		return &RenderError{Path: sources[0], Err: err}
	}
	return os.Rename(tmp, output)
}

// Rename performs a structural copy of source to output. The document is
// rewritten through the parser rather than byte-copied, so the result is
// a normalized file, not an alias of the input.
func (p *Processor) Rename(ctx context.Context, source, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	tmp := output + ".tmp"
	defer os.Remove(tmp)
	if err := api.OptimizeFile(source, tmp, p.conf); err != nil {
		return &RenderError{Path: source, Err: err}
	}
	return os.Rename(tmp, output)
}

// StampWatermark renders text onto every page of source at the chosen
// position and opacity, writing the result to output.
func (p *Processor) StampWatermark(ctx context.Context, source, output, text string, pos Position, opacity float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	if opacity <= 0 || opacity > 1 {
		opacity = 0.3
	}

	points := FontPoints(text)
	var stamps []string
	switch pos {
	case PositionTop:
		stamps = []string{descFor(points, opacity, "tc", 0)}
	case PositionBottom:
		stamps = []string{descFor(points, opacity, "bc", 0)}
	case PositionDiagonal:
		stamps = []string{descDiagonal(points, opacity)}
	case PositionCorners:
		small := points / 2
		if small < 12 {
			small = 12
		}
		stamps = []string{
			descFor(small, opacity, "tl", 0),
			descFor(small, opacity, "tr", 0),
			descFor(small, opacity, "bl", 0),
			descFor(small, opacity, "br", 0),
			descFor(points, opacity, "c", 0),
		}
	default:
		stamps = []string{descFor(points, opacity, "c", 0)}
	}

	cur := source
	for i, desc := range stamps {
		if err := ctx.Err(); err != nil {
			if cur != source {
				os.Remove(cur)
			}
			return err
		}
		next := fmt.Sprintf("%s.tmp%d", output, i)
		err := api.AddTextWatermarksFile(cur, next, nil, true, text, desc, p.conf)
		if cur != source {
			os.Remove(cur)
		}
		if err != nil {
			os.Remove(next)
			return &RenderError{Path: source, Err: err}
		}
		cur = next
	}
	return os.Rename(cur, output)
}

// IsValidDocument reports whether path starts with the PDF signature and
// contains at least one page. It never panics and reports false on any
// error.
func (p *Processor) IsValidDocument(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	head := make([]byte, 5)
	_, err = io.ReadFull(f, head)
	f.Close()
	if err != nil || !validate.HasValidSignature(head) {
		return false
	}
	n, err := api.PageCountFile(path)
	return err == nil && n >= 1
}

// PageCount returns the number of pages in the document at path.
func (p *Processor) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, &RenderError{Path: path, Err: err}
	}
	return n, nil
}

// FontPoints picks the watermark font size from the text length. Longer
// text gets a smaller size so it stays on the page; the mapping is
// monotonically non-increasing in length.
func FontPoints(text string) int {
	switch n := len(text); {
	case n <= 10:
		return 48
	case n <= 20:
		return 36
	case n <= 30:
		return 28
	default:
		return 20
	}
}

func descFor(points int, opacity float64, anchor string, rotation int) string {
	return fmt.Sprintf(
		"fontname:Helvetica-Bold, points:%d, position:%s, rotation:%d, opacity:%.2f, scalefactor:1 abs, fillcolor:#808080",
		points, anchor, rotation, opacity)
}

func descDiagonal(points int, opacity float64) string {
	return fmt.Sprintf(
		"fontname:Helvetica-Bold, points:%d, diagonal:1, opacity:%.2f, scalefactor:1 abs, fillcolor:#808080",
		points, opacity)
}
