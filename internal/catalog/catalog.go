// Package catalog is a local SQLite-backed image repository. It implements the
// imagestore interfaces so analyses can run against images on disk.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/storage"
)

// Catalog stores datasets, images, channel names and attachments.
type Catalog struct {
	db *sql.DB
}

var (
	_ imagestore.Source   = (*Catalog)(nil)
	_ imagestore.Attacher = (*Catalog)(nil)
)

// New opens (or creates) the catalog database.
func New(driver, path string) (*Catalog, error) {
	db, err := storage.Open(driver, path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{db: db}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            project TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS images (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            dataset_id INTEGER REFERENCES datasets(id),
            name TEXT NOT NULL,
            path TEXT NOT NULL,
            size_x INTEGER, size_y INTEGER, size_c INTEGER, size_z INTEGER, size_t INTEGER,
            pixel_type TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS channels (
            image_id INTEGER NOT NULL,
            idx INTEGER NOT NULL,
            name TEXT,
            PRIMARY KEY (image_id, idx)
        );`,
		`CREATE TABLE IF NOT EXISTS attachments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            image_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            namespace TEXT,
            size INTEGER,
            data BLOB,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_images_dataset ON images(dataset_id);`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_image ON attachments(image_id);`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Dataset is a named group of images.
type Dataset struct {
	ID      int64
	Name    string
	Project string
	Images  int
}

// CreateDataset adds a dataset and returns its id.
func (c *Catalog) CreateDataset(ctx context.Context, name, project string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `INSERT INTO datasets (name, project) VALUES (?, ?);`, name, project)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Datasets lists datasets with their image counts.
func (c *Catalog) Datasets(ctx context.Context) ([]Dataset, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT d.id, d.name, COALESCE(d.project, ''), COUNT(i.id)
        FROM datasets d LEFT JOIN images i ON i.dataset_id = d.id GROUP BY d.id ORDER BY d.id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Project, &d.Images); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// NewImage describes an image file to register.
type NewImage struct {
	Name      string
	Path      string
	SizeX     int
	SizeY     int
	SizeC     int
	SizeZ     int
	SizeT     int
	PixelType string
	Channels  []string
}

// AddImage registers an image file in a dataset and returns its id.
func (c *Catalog) AddImage(ctx context.Context, datasetID int64, img NewImage) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO images (dataset_id, name, path, size_x, size_y, size_c, size_z, size_t, pixel_type)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		datasetID, img.Name, img.Path, img.SizeX, img.SizeY, img.SizeC, img.SizeZ, img.SizeT, img.PixelType)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, name := range img.Channels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO channels (image_id, idx, name) VALUES (?, ?, ?);`, id, i, name); err != nil {
			return 0, err
		}
	}
	return id, tx.Commit()
}

const imageColumns = `i.id, i.name, COALESCE(d.name, ''), COALESCE(d.project, ''), i.size_x, i.size_y, i.size_c, i.size_z, i.size_t, COALESCE(i.pixel_type, '')`

// ListImages returns the images of a dataset in insertion order.
func (c *Catalog) ListImages(ctx context.Context, datasetID int64) ([]imagestore.ImageRef, error) {
	var exists int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets WHERE id=?;`, datasetID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("dataset %d: %w", datasetID, imagestore.ErrNotFound)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT `+imageColumns+` FROM images i LEFT JOIN datasets d ON d.id = i.dataset_id
        WHERE i.dataset_id=? ORDER BY i.id;`, datasetID)
	if err != nil {
		return nil, err
	}
	var refs []imagestore.ImageRef
	for rows.Next() {
		ref, err := scanImage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range refs {
		if refs[i].Channels, err = c.channels(ctx, refs[i].ID, refs[i].SizeC); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

// GetImage returns one image.
func (c *Catalog) GetImage(ctx context.Context, id int64) (imagestore.ImageRef, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images i LEFT JOIN datasets d ON d.id = i.dataset_id WHERE i.id=?;`, id)
	ref, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return imagestore.ImageRef{}, fmt.Errorf("image %d: %w", id, imagestore.ErrNotFound)
	}
	if err != nil {
		return imagestore.ImageRef{}, err
	}
	ref.Channels, err = c.channels(ctx, id, ref.SizeC)
	return ref, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(sc scanner) (imagestore.ImageRef, error) {
	var r imagestore.ImageRef
	err := sc.Scan(&r.ID, &r.Name, &r.Dataset, &r.Project, &r.SizeX, &r.SizeY, &r.SizeC, &r.SizeZ, &r.SizeT, &r.PixelType)
	return r, err
}

// channels returns sizeC names; unnamed channels get their 1-based index.
func (c *Catalog) channels(ctx context.Context, imageID int64, sizeC int) ([]string, error) {
	names := make([]string, sizeC)
	rows, err := c.db.QueryContext(ctx, `SELECT idx, COALESCE(name, '') FROM channels WHERE image_id=? ORDER BY idx;`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var idx int
		var name string
		if err := rows.Scan(&idx, &name); err != nil {
			return nil, err
		}
		if idx >= 0 && idx < sizeC {
			names[idx] = name
		}
	}
	for i := range names {
		if names[i] == "" {
			names[i] = fmt.Sprint(i + 1)
		}
	}
	return names, rows.Err()
}

// OpenExport opens the stored file of an image for chunked reading.
func (c *Catalog) OpenExport(ctx context.Context, id int64) (imagestore.Export, error) {
	var path string
	err := c.db.QueryRowContext(ctx, `SELECT path FROM images WHERE id=?;`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %d: %w", id, imagestore.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export for image %d: %w", id, err)
	}
	return fileExport{f: f}, nil
}

type fileExport struct {
	f *os.File
}

func (e fileExport) Read(offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := e.f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func (e fileExport) Close() error {
	return e.f.Close()
}

// Attachment is a file linked to an image.
type Attachment struct {
	ID        int64
	ImageID   int64
	Name      string
	Namespace string
	Size      int64
	CreatedAt time.Time
}

// AttachFile copies a local file into the catalog and links it to an image.
func (c *Catalog) AttachFile(ctx context.Context, imageID int64, localPath, name, namespace string) error {
	var exists int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE id=?;`, imageID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("image %d: %w", imageID, imagestore.ErrNotFound)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `INSERT INTO attachments (image_id, name, namespace, size, data) VALUES (?, ?, ?, ?, ?);`,
		imageID, name, namespace, len(data), data)
	return err
}

// Attachments lists the attachments of an image, optionally filtered by namespace.
func (c *Catalog) Attachments(ctx context.Context, imageID int64, namespace string) ([]Attachment, error) {
	q := `SELECT id, image_id, name, COALESCE(namespace, ''), size, created_at FROM attachments WHERE image_id=?`
	args := []any{imageID}
	if namespace != "" {
		q += ` AND namespace=?`
		args = append(args, namespace)
	}
	rows, err := c.db.QueryContext(ctx, q+` ORDER BY id;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.ImageID, &a.Name, &a.Namespace, &a.Size, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttachmentData returns the stored bytes of an attachment.
func (c *Catalog) AttachmentData(ctx context.Context, id int64) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT data FROM attachments WHERE id=?;`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", id, imagestore.ErrNotFound)
	}
	return data, err
}

// ParseChannels splits a comma separated channel name list.
func ParseChannels(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
