// Package processor renders thumbnail jobs: it decodes the source image once
// and writes one derivative per command.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"image-store/internal/domain"
	"image-store/internal/usecase/processor/operations"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type ImageProcessor struct {
	ops       map[string]operation
	outputDir string
	logger    *zlog.Zerolog
}

func NewImageProcessor(outputDir string, logger *zlog.Zerolog) (*ImageProcessor, error) {
	wm, err := operations.NewWatermarker()
	if err != nil {
		return nil, err
	}
	return &ImageProcessor{
		ops: map[string]operation{
			domain.OpThumbnail: operations.NewThumbnailer(),
			domain.OpResize:    operations.NewResizer(),
			domain.OpWatermark: wm,
		},
		outputDir: outputDir,
		logger:    logger,
	}, nil
}

// Process writes every derivative of req into <outputDir>/<source stem>/.
// A failing command fails the whole job.
func (p *ImageProcessor) Process(ctx context.Context, req domain.JobRequest) (*domain.JobResponse, error) {
	src, format, err := decodeFile(req.Pathname)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(req.Pathname)
	dir := filepath.Join(p.outputDir, strings.TrimSuffix(base, filepath.Ext(base)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	resp := &domain.JobResponse{
		Pathname:  req.Pathname,
		OutputDir: dir,
		Commands:  make([]domain.JobResult, 0, len(req.Commands)),
	}

	for i, cmd := range req.Commands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := p.apply(src, format, dir, cmd)
		if err != nil {
			p.logger.Error().Err(err).Str("pathname", req.Pathname).Int("command", i).Msg("Command failed")
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		resp.Commands = append(resp.Commands, result)
	}

	p.logger.Info().
		Str("pathname", req.Pathname).
		Str("source_format", format).
		Int("outputs", len(resp.Commands)).
		Msg("Job processed")

	return resp, nil
}

func (p *ImageProcessor) apply(src image.Image, srcFormat, dir string, cmd domain.JobCommand) (domain.JobResult, error) {
	name, _ := cmd[domain.CommandFilename].(string)
	if name == "" || name != filepath.Base(name) {
		return domain.JobResult{}, fmt.Errorf("%w: bad filename %v", ErrInvalidCommand, cmd[domain.CommandFilename])
	}

	opName, _ := cmd[domain.CommandOp].(string)
	if opName == "" {
		opName = domain.OpThumbnail
	}
	op, ok := p.ops[opName]
	if !ok {
		return domain.JobResult{}, fmt.Errorf("%w: %s", ErrUnsupportedOperation, opName)
	}

	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	spec := strings.TrimSuffix(name, filepath.Ext(name))
	if ext == "" {
		ext = extensionFor(srcFormat)
	}
	filename := spec + "." + ext

	out, err := op.Apply(src, cmd)
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := encodeFile(filepath.Join(dir, filename), ext, out); err != nil {
		return domain.JobResult{}, err
	}

	return domain.JobResult{Filename: filename, SpecName: spec}, nil
}

func decodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return img, format, nil
}

func extensionFor(format string) string {
	switch format {
	case "jpeg", "":
		return domain.FormatJPG
	case "webp":
		return "png"
	default:
		return format
	}
}

func encodeFile(path, ext string, img image.Image) (err error) {
	enc, err := encoderFor(ext)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := enc(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

func encoderFor(ext string) (func(io.Writer, image.Image) error, error) {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg":
		return func(w io.Writer, img image.Image) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: domain.DefaultJPEGQuality})
		}, nil
	case "png":
		return png.Encode, nil
	case "gif":
		return func(w io.Writer, img image.Image) error {
			return gif.Encode(w, img, nil)
		}, nil
	case "bmp":
		return bmp.Encode, nil
	case "tif", "tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, nil)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}
