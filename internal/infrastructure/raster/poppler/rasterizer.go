package poppler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/ledongthuc/pdf"
)

const defaultDPI = 200

// Runner lets tests stub the external renderer.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var errb bytes.Buffer
	cmd.Stderr = &errb
	err := cmd.Run()
	return errb.Bytes(), err
}

// Rasterizer renders single PDF pages to JPEG via poppler's pdftoppm.
type Rasterizer struct {
	binary string
	dpi    int
	runner Runner
	logger *slog.Logger
}

type Option func(*Rasterizer)

func WithBinary(path string) Option {
	return func(r *Rasterizer) {
		if path != "" {
			r.binary = path
		}
	}
}

func WithDPI(dpi int) Option {
	return func(r *Rasterizer) {
		if dpi > 0 {
			r.dpi = dpi
		}
	}
}

func WithRunner(runner Runner) Option {
	return func(r *Rasterizer) {
		if runner != nil {
			r.runner = runner
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Rasterizer {
	r := &Rasterizer{
		binary: "pdftoppm",
		dpi:    defaultDPI,
		runner: execRunner{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Rasterizer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("open pdf %s: %w", filepath.Base(pdfPath), err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}

// RenderPage rasterizes one page to JPEG bytes.
// pdftoppm -f N -l N -r <dpi> -jpeg <in.pdf> <tmp/page>
func (r *Rasterizer) RenderPage(ctx context.Context, pdfPath string, page int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "ci-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create raster temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("remove raster temp dir", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	pageArg := strconv.Itoa(page)
	stderr, err := r.runner.Run(ctx, r.binary,
		"-f", pageArg,
		"-l", pageArg,
		"-r", strconv.Itoa(r.dpi),
		"-jpeg",
		pdfPath,
		prefix,
	)
	if err != nil {
		r.logger.Error("pdftoppm failed",
			"file", filepath.Base(pdfPath),
			"page", page,
			"error", err,
			"stderr", string(stderr),
		)
		return nil, fmt.Errorf("render page %d of %s: %w", page, filepath.Base(pdfPath), err)
	}

	// pdftoppm zero-pads page numbers depending on the total count, so
	// glob instead of guessing the suffix width.
	matches, _ := filepath.Glob(prefix + "-*.jpg")
	if len(matches) == 0 {
		return nil, fmt.Errorf("render page %d of %s: pdftoppm produced no image", page, filepath.Base(pdfPath))
	}
	image, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	return image, nil
}
