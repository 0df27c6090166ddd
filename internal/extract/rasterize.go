package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Rasterizer renders PDF pages to images.
type Rasterizer interface {
	RasterizePDF(ctx context.Context, data []byte, maxPages int) ([]Image, error)
}

// PDFToPPM rasterizes with poppler's pdftoppm binary.
type PDFToPPM struct {
	Bin string
	DPI int
}

// RasterizePDF renders up to maxPages pages as PNG images in page order.
func (p PDFToPPM) RasterizePDF(ctx context.Context, data []byte, maxPages int) ([]Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty pdf data")
	}
	bin := p.Bin
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 150
	}

	dir, err := os.MkdirTemp("", "contract-raster-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, err
	}

	args := []string{"-png", "-r", strconv.Itoa(dpi)}
	if maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
	}
	args = append(args, input, filepath.Join(dir, "page"))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, bytes.TrimSpace(stderr.Bytes()))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	// pdftoppm zero-pads page numbers to a fixed width, so lexical order is page order.
	sort.Strings(matches)

	images := make([]Image, 0, len(matches))
	for _, path := range matches {
		img, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		images = append(images, Image{Data: img, MediaType: MimePNG})
	}
	if len(images) == 0 {
		return nil, errors.New("pdftoppm produced no pages")
	}
	return images, nil
}
