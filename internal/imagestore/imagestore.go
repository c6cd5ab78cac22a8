// Package imagestore describes the remote image repository the analysers read
// from and write attachments back to.
package imagestore

import (
	"context"
	"errors"
	"path/filepath"
)

// ErrNotFound is returned when an image or dataset id cannot be resolved.
var ErrNotFound = errors.New("image not found")

// ImageRef is an immutable snapshot of an image's metadata, fetched once per run.
type ImageRef struct {
	ID        int64
	Name      string
	Dataset   string
	Project   string
	SizeX     int
	SizeY     int
	SizeC     int
	SizeZ     int
	SizeT     int
	Channels  []string
	PixelType string
}

// BaseName returns the file name part of the image name.
func (r ImageRef) BaseName() string {
	if r.Name == "" {
		return ""
	}
	return filepath.Base(r.Name)
}

// ChannelNames returns a copy of the channel names.
func (r ImageRef) ChannelNames() []string {
	out := make([]string, len(r.Channels))
	copy(out, r.Channels)
	return out
}

// Export is a server-side single-file rendition of one image, read in chunks.
type Export interface {
	// Read returns up to n bytes starting at offset. A short read marks the end of the export.
	Read(offset int64, n int) ([]byte, error)
	Close() error
}

// Source resolves images and produces exports.
type Source interface {
	ListImages(ctx context.Context, datasetID int64) ([]ImageRef, error)
	GetImage(ctx context.Context, id int64) (ImageRef, error)
	OpenExport(ctx context.Context, id int64) (Export, error)
}

// Attacher registers a local file as an attachment on an image.
type Attacher interface {
	AttachFile(ctx context.Context, imageID int64, localPath, name, namespace string) error
}

// BytesPerPixel returns the storage size of one pixel for the given pixel type.
func BytesPerPixel(pixelType string) (int, error) {
	switch pixelType {
	case "int8", "uint8":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "int32", "uint32", "float":
		return 4, nil
	case "double":
		return 8, nil
	default:
		return 0, errors.New("unknown pixel type: " + pixelType)
	}
}

// RawSize returns the uncompressed pixel byte count of the image.
func (r ImageRef) RawSize() (int64, error) {
	bpp, err := BytesPerPixel(r.PixelType)
	if err != nil {
		return 0, err
	}
	return int64(r.SizeX) * int64(r.SizeY) * int64(r.SizeC) * int64(r.SizeZ) * int64(r.SizeT) * int64(bpp), nil
}
