package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"stackanalyser/internal/config"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
		Long:  "Show the stackanalyser configuration after files, environment and defaults are merged",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func (r *Root) configShow(out io.Writer) error {
	cfgPath := config.FileUsed()
	if cfgPath == "" {
		cfgPath = "(none, defaults and environment only)"
	}
	fmt.Fprintf(out, "Config file: %s\n", cfgPath)

	c := r.cfg
	fmt.Fprintf(out, "\nImageJ:\n")
	fmt.Fprintf(out, "  Java: %s\n", c.ImageJ.Java)
	fmt.Fprintf(out, "  Classpath: %s\n", strings.Join(c.ImageJ.Classpath, ":"))
	fmt.Fprintf(out, "  Path: %s\n", c.ImageJ.Path)
	if len(c.ImageJ.JVMArgs) > 0 {
		fmt.Fprintf(out, "  JVM args: %s\n", strings.Join(c.ImageJ.JVMArgs, " "))
	}

	fmt.Fprintf(out, "\nWorkspace:\n")
	root := c.Workspace.Root
	if root == "" {
		root = "(system temp)"
	}
	fmt.Fprintf(out, "  Root: %s\n", root)
	fmt.Fprintf(out, "  Force remove: %t\n", c.Workspace.ForceRemove)
	fmt.Fprintf(out, "  Chunk size: %d\n", c.Workspace.ChunkSize)

	fmt.Fprintf(out, "\nMail:\n")
	host := c.Mail.Host
	if host == "" {
		host = "(disabled)"
	}
	fmt.Fprintf(out, "  Relay: %s:%d\n", host, c.Mail.Port)
	fmt.Fprintf(out, "  From: %s\n", c.Mail.From)
	if c.Mail.DefaultRecipient != "" {
		fmt.Fprintf(out, "  Default recipient: %s\n", c.Mail.DefaultRecipient)
	}

	fmt.Fprintf(out, "\nStorage:\n")
	fmt.Fprintf(out, "  Driver: %s\n", c.Paths.DatabaseDriver)
	fmt.Fprintf(out, "  Run database: %s\n", c.Paths.DatabasePath)
	fmt.Fprintf(out, "  Catalog: %s\n", c.Paths.CatalogPath)

	fmt.Fprintf(out, "\nServer:\n")
	fmt.Fprintf(out, "  HTTP: %s\n", c.Server.HTTPAddr)
	fmt.Fprintf(out, "  gRPC: %s\n", c.Server.GRPCAddr)
	fmt.Fprintf(out, "  Workers: %d (queue %d)\n", c.Pipeline.Workers, c.Pipeline.QueueSize)

	fmt.Fprintf(out, "\nLogging:\n")
	fmt.Fprintf(out, "  Level: %s\n", c.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", c.Logging.Format)
	if c.Logging.FileOutput {
		fmt.Fprintf(out, "  Directory: %s\n", c.Logging.LogDir)
	}
	return nil
}
