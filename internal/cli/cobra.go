package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stackanalyser/internal/analysis"
	"stackanalyser/internal/catalog"
	"stackanalyser/internal/config"
	"stackanalyser/internal/fsutil"
	"stackanalyser/internal/logging"
	"stackanalyser/internal/params"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackanalyser",
		Short: "stackanalyser runs ImageJ stack analyses over catalogued microscopy images",
		Long: `stackanalyser exports image stacks to a scratch workspace, runs a headless
ImageJ colocalisation or correlation macro over them, and uploads or emails the
collected results.`,
		SilenceUsage: true,
	}

	for _, v := range analysis.Variants() {
		rootCmd.AddCommand(newAnalysisCmd(root, v))
	}
	rootCmd.AddCommand(newImportCmd(root))
	rootCmd.AddCommand(newImagesCmd(root))
	rootCmd.AddCommand(newAttachmentsCmd(root))
	rootCmd.AddCommand(newRunsCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newAnalysisCmd(root *Root, v analysis.Variant) *cobra.Command {
	var (
		paramsFile   string
		dataType     string
		ids          []int64
		method       string
		channel1     string
		channel2     string
		channel3     string
		permutations int
		minShift     int
		maxShift     int
		significance float64
		intersect    bool
		aggregate    bool
		upload       bool
		email        bool
		recipient    string
		profileEmail bool
	)
	defaults := v.Defaults()
	schema := v.Schema()

	cmd := &cobra.Command{
		Use:   v.Key() + " [flags]",
		Short: fmt.Sprintf("Run the %s analysis over images or datasets", strings.ToLower(v.Name())),
		Long: fmt.Sprintf(`Run the %s analysis. Parameters can be supplied as flags or as a
YAML parameters file using the same keys as the analysis form; flags win.

Examples:
  stackanalyser %s --ids 101,102 --upload --email=false
  stackanalyser %s --data-type Dataset --ids 7 --params-file params.yaml`, v.Name(), v.Key(), v.Key()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logFlags(root.log, cmd)
			bag := params.Bag{}
			if paramsFile != "" {
				loaded, err := params.LoadBag(paramsFile)
				if err != nil {
					return err
				}
				bag = loaded
			}

			set := func(flag, key string, value any) {
				if cmd.Flags().Changed(flag) {
					bag[key] = value
				}
			}
			set("data-type", params.KeyDataType, dataType)
			set("ids", params.KeyIDs, ids)
			set("method", params.KeyMethod, method)
			set("channel1", params.KeyChannel1, channel1)
			set("channel2", params.KeyChannel2, channel2)
			set("channel3", params.KeyChannel3, channel3)
			set("permutations", params.KeyPermutations, permutations)
			set("min-shift", params.KeyMinShift, minShift)
			set("max-shift", params.KeyMaxShift, maxShift)
			set("significance", params.KeySignificance, significance)
			set("intersect", params.KeyIntersect, intersect)
			set("aggregate", params.KeyAggregate, aggregate)
			set("upload", params.KeyUpload, upload)
			set("email", params.KeyEmailResults, email)
			set("to", params.KeyEmail, recipient)
			if profileEmail {
				bag[params.KeyEmail] = root.cfg.Mail.DefaultRecipient
			}

			sel, err := params.SelectionFromBag(bag)
			if err != nil {
				return err
			}
			if len(sel.IDs) == 0 {
				return fmt.Errorf("no image or dataset ids given")
			}
			p, err := params.FromBag(bag, defaults)
			if err != nil {
				return err
			}
			return root.runAnalysis(cmd.Context(), cmd.OutOrStdout(), v, sel, p)
		},
	}

	f := cmd.Flags()
	f.StringVar(&paramsFile, "params-file", "", "YAML parameters file")
	f.StringVar(&dataType, "data-type", string(params.DataTypeImage), "how ids are interpreted (Image|Dataset)")
	f.Int64SliceVar(&ids, "ids", nil, "image or dataset ids")
	f.StringVar(&method, "method", string(defaults.Method), "threshold method ("+joinMethods()+")")
	if schema.Channels {
		f.StringVar(&channel1, "channel1", defaults.Channel1, "first channel name or 1-based index")
		f.StringVar(&channel2, "channel2", defaults.Channel2, "second channel name or 1-based index")
		f.StringVar(&channel3, "channel3", defaults.Channel3, "optional third channel name or 1-based index")
	}
	if schema.Displacement {
		f.IntVar(&permutations, "permutations", defaults.Permutations, "number of random permutations")
		f.IntVar(&minShift, "min-shift", defaults.MinShift, "minimum shift in pixels")
		f.IntVar(&maxShift, "max-shift", defaults.MaxShift, "maximum shift in pixels")
		f.Float64Var(&significance, "significance", defaults.Significance, "significance level")
	} else {
		f.BoolVar(&intersect, "intersect", defaults.Intersect, "restrict to the intersect of the channel masks")
		f.BoolVar(&aggregate, "aggregate", defaults.Aggregate, "aggregate the z-stack")
	}
	f.BoolVar(&upload, "upload", defaults.Upload, "attach per-image results to the images")
	f.BoolVar(&email, "email", defaults.Email, "email the combined CSV report")
	f.StringVar(&recipient, "to", "", "report recipient address")
	f.BoolVar(&profileEmail, "profile-email", false, "send the report to the configured default recipient")
	f.SortFlags = false

	return cmd
}

func joinMethods() string {
	ms := params.Methods()
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return strings.Join(out, "|")
}

func newImportCmd(root *Root) *cobra.Command {
	var (
		datasetID int64
		name      string
		project   string
		channels  string
		frames    int
		watch     bool
		settle    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import <file-or-directory>...",
		Short: "Register image stacks in the local catalog",
		Long: `Probe multi-page image files and register them in a catalog dataset.
Directories are searched for TIFF and LSM stacks. Either pass --dataset to add
to an existing dataset or --name to create one. With --watch the given
directories are monitored and new stacks are imported once they stop changing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			files, dirs, err := fsutil.ExpandPaths(args)
			if err != nil {
				return err
			}
			if watch && len(dirs) == 0 {
				return fmt.Errorf("--watch needs at least one directory")
			}

			if datasetID == 0 {
				if name == "" {
					return fmt.Errorf("either --dataset or --name is required")
				}
				id, err := root.catalog.CreateDataset(ctx, name, project)
				if err != nil {
					return err
				}
				datasetID = id
				fmt.Fprintf(out, "Created dataset %d (%s)\n", id, name)
			}

			opts := catalog.ImportOptions{
				Channels: catalog.ParseChannels(channels),
				Frames:   frames,
				Logger:   root.log,
			}
			ids, err := root.catalog.Import(ctx, datasetID, files, root.prober, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Imported %d of %d files into dataset %d\n", len(ids), len(files), datasetID)
			for _, id := range ids {
				fmt.Fprintf(out, "  image %d\n", id)
			}
			if !watch {
				return nil
			}

			w, err := fsutil.NewStackWatcher(dirs, settle, root.log)
			if err != nil {
				return err
			}
			errCh := make(chan error, 1)
			go func() { errCh <- w.Run(ctx) }()
			for ev := range w.Events {
				ids, err := root.catalog.Import(ctx, datasetID, []string{ev.Path}, root.prober, opts)
				if err != nil {
					root.log.Error("import failed", "path", ev.Path, "error", err)
					continue
				}
				for _, id := range ids {
					fmt.Fprintf(out, "  image %d (%s, %s)\n", id, ev.Path, humanize.IBytes(uint64(ev.Size)))
				}
			}
			if err := <-errCh; err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&datasetID, "dataset", 0, "existing dataset id")
	cmd.Flags().StringVar(&name, "name", "", "name of a new dataset")
	cmd.Flags().StringVar(&project, "project", "", "project of a new dataset")
	cmd.Flags().StringVar(&channels, "channels", "", "comma separated channel names")
	cmd.Flags().IntVar(&frames, "frames", 1, "time points per file")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching the directories for new stacks")
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "quiet period before a new file is imported")
	return cmd
}

func newImagesCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "images [dataset-id]",
		Short: "List datasets, or the images of one dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				sets, err := root.catalog.Datasets(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(sets))
				for _, d := range sets {
					rows = append(rows, []string{strconv.FormatInt(d.ID, 10), d.Name, d.Project, strconv.Itoa(d.Images)})
				}
				writeRows(out, []string{"ID", "Dataset", "Project", "Images"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dataset id %q", args[0])
			}
			images, err := root.catalog.ListImages(ctx, id)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(images))
			for _, img := range images {
				size := "-"
				if n, err := img.RawSize(); err == nil {
					size = humanize.IBytes(uint64(n))
				}
				dims := fmt.Sprintf("%dx%dx%dx%dx%d", img.SizeX, img.SizeY, img.SizeC, img.SizeZ, img.SizeT)
				rows = append(rows, []string{
					strconv.FormatInt(img.ID, 10), img.Name, dims, img.PixelType, size, strings.Join(img.Channels, ","),
				})
			}
			writeRows(out, []string{"ID", "Name", "XYCZT", "Pixels", "Raw size", "Channels"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
			return nil
		},
	}
}

func newAttachmentsCmd(root *Root) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "attachments <image-id>",
		Short: "List result files attached to an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid image id %q", args[0])
			}
			atts, err := root.catalog.Attachments(cmd.Context(), id, namespace)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(atts))
			for _, a := range atts {
				rows = append(rows, []string{
					strconv.FormatInt(a.ID, 10), a.Name, a.Namespace, humanize.IBytes(uint64(a.Size)), humanize.Time(a.CreatedAt),
				})
			}
			writeRows(cmd.OutOrStdout(), []string{"ID", "Name", "Namespace", "Size", "Added"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft})
			return nil
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "only list attachments in this namespace")
	return cmd
}

func newRunsCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent analysis runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(recs))
			for _, rec := range recs {
				took := "-"
				if rec.StartedAt != nil && rec.CompletedAt != nil {
					took = rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Second).String()
				}
				rows = append(rows, []string{
					rec.ID, rec.Variant, rec.Status, strconv.Itoa(rec.ImageCount), strconv.Itoa(rec.Processed),
					humanize.Time(rec.CreatedAt), took, rec.Error,
				})
			}
			writeRows(cmd.OutOrStdout(), []string{"ID", "Analysis", "Status", "Images", "Processed", "Queued", "Took", "Error"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr     string
		grpcAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP run queue server",
		Long: `Start an HTTP server that accepts analysis runs and streams their outcomes.

Endpoints:
  GET  /healthz       liveness
  GET  /analyses      available analyses and their defaults
  GET  /runs          recent runs
  POST /runs          queue a run
  GET  /runs/{id}     one run with per-image outcomes
  GET  /ws            websocket feed of finished runs
  GET  /metrics       Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg.Server
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("grpc-addr") {
				cfg.GRPCAddr = grpcAddr
			}

			config.Watch(func(_ *config.Config, ev fsnotify.Event) {
				root.log.Warn("configuration file changed; restart to apply", "file", ev.Name, "op", ev.Op.String())
			})

			root.log.Info("starting server", "addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr, "lock_file", cfg.LockFile)
			return root.serveFn(cmd.Context(), cfg, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.HTTPAddr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC health address, empty disables it")
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Check the Java runtime and ImageJ installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			status := root.newToolManager().Status()

			names := []string{"java", "imagej"}
			rows := make([][]string, 0, len(names))
			missing := false
			for _, name := range names {
				st, ok := status[name]
				if !ok {
					continue
				}
				logging.LogToolStatus(root.log, name, st.Available, st.Version, st.Path, st.Error)
				state := "available"
				if !st.Available {
					state = "missing"
					missing = true
				}
				row := []string{name, state, st.Version, st.Path}
				if verbose && st.Error != nil {
					row = append(row, st.Error.Error())
				}
				rows = append(rows, row)
			}
			headers := []string{"Tool", "Status", "Version", "Path"}
			if verbose {
				headers = append(headers, "Error")
			}
			writeRows(out, headers, rows, nil)
			if missing {
				fmt.Fprintln(out, "\nConfigure imagej.java, imagej.classpath and imagej.path to point at a headless ImageJ installation.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show errors for missing tools")
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("stackanalyser %s\n", Version)
		},
	}
}

// logFlags records which flags were set on cmd, for debugging parameter files.
func logFlags(log *slog.Logger, cmd *cobra.Command) {
	cmd.Flags().Visit(func(f *pflag.Flag) {
		log.Debug("flag set", "name", f.Name, "value", f.Value.String())
	})
}
