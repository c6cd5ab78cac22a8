package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"stackanalyser/internal/extract"
	"stackanalyser/internal/imagestore"
	"stackanalyser/internal/mail"
	"stackanalyser/internal/metrics"
	"stackanalyser/internal/params"
	"stackanalyser/internal/report"
	"stackanalyser/internal/workspace"
)

// Distribution is what a Distributor delivered.
type Distribution struct {
	Report report.Report
	// Attachments maps an image id to the attachment name registered on it.
	Attachments map[int64]string
	Emailed     bool
}

// Distributor uploads per-image results and emails the report.
type Distributor struct {
	Variant  Variant
	Attacher imagestore.Attacher
	Mailer   mail.Sender
	From     string
	Host     string
	Log      *slog.Logger
}

// Distribute delivers results according to the upload and email flags of p.
// Failures are logged per attempt and never undo earlier deliveries.
func (d *Distributor) Distribute(ctx context.Context, results extract.Results, p params.Parameters, images map[int64]imagestore.ImageRef, ws *workspace.Workspace) Distribution {
	out := Distribution{
		Report:      report.Build(results, images, d.Variant.ReportColumns()),
		Attachments: map[int64]string{},
	}

	if p.Upload {
		suffix := d.Variant.ResultName(p)
		for _, id := range results.IDs() {
			name := fmt.Sprintf("%d.%s", id, suffix)
			if err := d.attach(ctx, id, results[id], name, ws); err != nil {
				d.Log.Warn("attachment failed", "image_id", id, "name", name, "error", err)
				metrics.RecordDistribution("attachment", false)
				continue
			}
			metrics.RecordDistribution("attachment", true)
			out.Attachments[id] = name
		}
	}

	if p.Email {
		if err := d.email(ctx, results, out.Report, p, images); err != nil {
			d.Log.Warn("email failed", "to", p.Recipient, "error", err)
			metrics.RecordDistribution("email", false)
		} else {
			metrics.RecordDistribution("email", true)
			out.Emailed = true
		}
	}
	return out
}

// attach writes the block to a temporary workspace file, registers it and
// removes the file whatever the outcome.
func (d *Distributor) attach(ctx context.Context, id int64, block extract.Block, name string, ws *workspace.Workspace) error {
	if d.Attacher == nil {
		return fmt.Errorf("no attachment target configured")
	}
	f, err := ws.CreateTemp("result-*.csv")
	if err != nil {
		return err
	}
	path := f.Name()
	defer func() {
		if err := ws.Remove(path); err != nil {
			d.Log.Warn("workspace cleanup failed", "path", path, "error", err)
		}
	}()

	if _, err := f.WriteString(block.Text()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return d.Attacher.AttachFile(ctx, id, path, name, d.Variant.Namespace())
}

func (d *Distributor) email(ctx context.Context, results extract.Results, rep report.Report, p params.Parameters, images map[int64]imagestore.ImageRef) error {
	if !params.ValidEmail(p.Recipient) {
		return fmt.Errorf("no valid email address: %q", p.Recipient)
	}
	if d.Mailer == nil {
		return fmt.Errorf("no mail sender configured")
	}

	var listed []string
	for _, id := range results.IDs() {
		img := images[id]
		listed = append(listed, fmt.Sprintf("[%s][%s] Image %d : %s",
			orDash(img.Project), orDash(img.Dataset), id, orDash(img.BaseName())))
	}

	host := d.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	msg := mail.Compose(d.From, p.Recipient, mail.Job{
		Variant:    d.Variant.Name(),
		Images:     listed,
		Parameters: p.Summary(d.Variant.Schema()),
		CSV:        rep.CSV(),
		Host:       host,
	})
	return d.Mailer.Send(ctx, msg)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
