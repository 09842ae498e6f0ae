// Package image wraps the decode/resize pipeline which derives replica
// metadata and thumbnails. All functions are pure with respect to their
// inputs; the CPU-heavy Process call is expected to be run on a bounded
// worker, never on a request-handling goroutine.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	// Register the stdlib decoders used by image.DecodeConfig. The full
	// decode path goes through imaging.Decode which carries it's own set.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

var ErrDecodeFailed = errors.New("image could not be decoded")

type (
	// ImageMetadata is the result of pure inspection of an image stream.
	ImageMetadata struct {
		MimeType string
		Width    int
		Height   int
	}

	// OriginalImage describes the source image as decoded. Never mutated
	// after creation.
	OriginalImage struct {
		Width    int
		Height   int
		MimeType string
	}

	// ThumbnailImage holds the re-encoded thumbnail bytes alongside it's
	// dimensions. Never mutated after creation.
	ThumbnailImage struct {
		Bytes    []byte
		Width    int
		Height   int
		MimeType string
	}

	// Processor derives metadata and thumbnails from image streams. The
	// thumbnail is fitted inside a fixed target box, preserving the
	// source aspect ratio, and re-encoded as PNG.
	Processor struct {
		thumbnailWidth  int
		thumbnailHeight int
	}
)

const thumbnailMimeType = "image/png"

func NewProcessor(thumbnailWidth int, thumbnailHeight int) *Processor {
	return &Processor{thumbnailWidth: thumbnailWidth, thumbnailHeight: thumbnailHeight}
}

// Metadata inspects the stream and reports the images MIME type and
// dimensions without performing a full decode. Unrecognizable bytes fail
// with ErrDecodeFailed.
func (processor *Processor) Metadata(source io.ReadSeeker) (*ImageMetadata, error) {
	mime, err := mimetype.DetectReader(source)
	if err != nil {
		return nil, fmt.Errorf("failed to sniff image mime type: %w", err)
	}

	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image stream: %w", err)
	}

	config, _, err := image.DecodeConfig(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	return &ImageMetadata{MimeType: mime.String(), Width: config.Width, Height: config.Height}, nil
}

// Process fully decodes the source and produces the original image
// descriptor alongside a freshly encoded thumbnail. This is the CPU-bound
// half of the replica pipeline and can take hundreds of milliseconds for
// large sources.
func (processor *Processor) Process(source io.ReadSeeker) (*OriginalImage, *ThumbnailImage, error) {
	metadata, err := processor.Metadata(source)
	if err != nil {
		return nil, nil, err
	}

	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("failed to rewind image stream: %w", err)
	}

	decoded, err := imaging.Decode(source)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	thumbnail := imaging.Fit(decoded, processor.thumbnailWidth, processor.thumbnailHeight, imaging.Lanczos)

	var encoded bytes.Buffer
	if err := imaging.Encode(&encoded, thumbnail, imaging.PNG); err != nil {
		return nil, nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	bounds := thumbnail.Bounds()
	original := &OriginalImage{
		Width:    metadata.Width,
		Height:   metadata.Height,
		MimeType: metadata.MimeType,
	}
	thumb := &ThumbnailImage{
		Bytes:    encoded.Bytes(),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		MimeType: thumbnailMimeType,
	}

	return original, thumb, nil
}
