package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"stackanalyser/internal/probe"
)

// ImportOptions describes how the planes of imported files are laid out.
type ImportOptions struct {
	Channels []string
	// Frames is the time point count; planes / (channels*frames) gives the z depth.
	Frames int
	Logger *slog.Logger
}

// Import probes each file and registers it in the dataset. Files that cannot
// be probed or whose plane count does not fit the layout are skipped.
func (c *Catalog) Import(ctx context.Context, datasetID int64, paths []string, p probe.Prober, opts ImportOptions) ([]int64, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sizeC := max(len(opts.Channels), 1)
	sizeT := max(opts.Frames, 1)

	var ids []int64
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return ids, err
		}
		info, err := p.Probe(abs)
		if err != nil {
			log.Warn("skipping unreadable image", "path", abs, "error", err)
			continue
		}
		if info.Planes%(sizeC*sizeT) != 0 {
			log.Warn("skipping image with unexpected plane count", "path", abs, "planes", info.Planes, "channels", sizeC, "frames", sizeT)
			continue
		}
		id, err := c.AddImage(ctx, datasetID, NewImage{
			Name:      filepath.Base(abs),
			Path:      abs,
			SizeX:     info.Width,
			SizeY:     info.Height,
			SizeC:     sizeC,
			SizeZ:     info.Planes / (sizeC * sizeT),
			SizeT:     sizeT,
			PixelType: info.PixelType(),
			Channels:  opts.Channels,
		})
		if err != nil {
			return ids, fmt.Errorf("register %s: %w", abs, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
