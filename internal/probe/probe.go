// Package probe reads image geometry from files being imported into the catalog.
package probe

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Info is the geometry read from an image file header.
type Info struct {
	Width  int
	Height int
	// Planes is the number of images stored in the file (TIFF pages).
	Planes int
	// Depth is the sample depth in bits.
	Depth  int
	Format string
}

// PixelType maps the sample depth to a pixel type name.
func (i Info) PixelType() string {
	switch {
	case i.Depth <= 8:
		return "uint8"
	case i.Depth <= 16:
		return "uint16"
	default:
		return "float"
	}
}

// Prober reads Info from a file.
type Prober interface {
	Probe(path string) (Info, error)
}

var initOnce sync.Once

// Magick probes files with ImageMagick. Only headers are read.
type Magick struct{}

func (Magick) Probe(path string) (Info, error) {
	initOnce.Do(imagick.Initialize)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.PingImage(path); err != nil {
		return Info{}, fmt.Errorf("ping %s: %w", path, err)
	}
	mw.SetIteratorIndex(0)
	info := Info{
		Width:  int(mw.GetImageWidth()),
		Height: int(mw.GetImageHeight()),
		Planes: int(mw.GetNumberImages()),
		Depth:  int(mw.GetImageDepth()),
		Format: mw.GetImageFormat(),
	}
	if info.Planes == 0 {
		info.Planes = 1
	}
	return info, nil
}
