package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/metrics"
	"stackanalyser/internal/workspace"
)

// DefaultChunkSize is the export read size in bytes.
const DefaultChunkSize = 1000000

// Exported is an image written into the workspace.
type Exported struct {
	Image imagestore.ImageRef
	Path  string
	Bytes int64
}

// Exporter copies images from the store into a workspace.
type Exporter struct {
	Source    imagestore.Source
	ChunkSize int
	Log       *slog.Logger
}

// Export writes each image to "<id>.ome.tif" in ws. Images that fail are
// logged and left out; the rest keep their selection order.
func (e *Exporter) Export(ctx context.Context, images []imagestore.ImageRef, ws *workspace.Workspace) []Exported {
	out := make([]Exported, 0, len(images))
	for _, img := range images {
		if ctx.Err() != nil {
			break
		}
		exp, err := e.exportOne(ctx, img, ws)
		if err != nil {
			e.Log.Warn("image export failed", "image_id", img.ID, "name", img.Name, "error", err)
			metrics.RecordExport(false, 0)
			continue
		}
		metrics.RecordExport(true, exp.Bytes)
		out = append(out, exp)
	}
	return out
}

func (e *Exporter) exportOne(ctx context.Context, img imagestore.ImageRef, ws *workspace.Workspace) (Exported, error) {
	chunk := e.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	src, err := e.Source.OpenExport(ctx, img.ID)
	if err != nil {
		return Exported{}, err
	}
	defer src.Close()

	f, err := ws.Create(fmt.Sprintf("%d.ome.tif", img.ID))
	if err != nil {
		return Exported{}, err
	}
	path := f.Name()

	var written int64
	for {
		buf, err := src.Read(written, chunk)
		if err != nil {
			f.Close()
			_ = ws.Remove(path)
			return Exported{}, fmt.Errorf("read export at %d: %w", written, err)
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			_ = ws.Remove(path)
			return Exported{}, err
		}
		written += int64(len(buf))
		if len(buf) < chunk {
			break
		}
	}
	if err := f.Close(); err != nil {
		_ = ws.Remove(path)
		return Exported{}, err
	}
	return Exported{Image: img, Path: path, Bytes: written}, nil
}
