package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/maneesh/scatterstore/internal/engine"
	"github.com/spf13/cobra"
)

func newChunkCmd(st *state) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "chunk <path>...",
		Short: "Split one or more files across the storage providers",
		Long: `Split each file into chunks, store every chunk on a randomly chosen
provider and record the layout. Prints the new file ID for each path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name != "" && len(args) > 1 {
				return fmt.Errorf("--name can only be used with a single path")
			}

			var failed int
			for _, path := range args {
				opts := []engine.CallOption{}
				if name != "" {
					opts = append(opts, engine.WithName(name))
				}
				if info, err := os.Stat(path); err == nil {
					if bar := st.progress(cmd, info.Size(), "chunking "+path); bar != nil {
						opts = append(opts, engine.WithProgress(bar))
					}
				}

				file, err := st.app.Engine.ChunkFile(cmd.Context(), path, opts...)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\n", file.ID, path, file.TotalChunks)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "record this name instead of the file's base name")
	return cmd
}

func newReconstructCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct <file-id> <output-path>",
		Short: "Rebuild a chunked file and verify it against its checksum",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID, out := args[0], args[1]

			file, err := st.app.Engine.GetFileInfo(cmd.Context(), fileID)
			if err != nil {
				return err
			}

			var opts []engine.CallOption
			if bar := st.progress(cmd, file.Size, "rebuilding "+file.Name); bar != nil {
				opts = append(opts, engine.WithProgress(bar))
			}
			if err := st.app.Engine.ReconstructFile(cmd.Context(), fileID, out, opts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rebuilt to %s (%s)\n", fileID, out, humanize.IBytes(uint64(file.Size)))
			return nil
		},
	}
}

func newInfoCmd(st *state) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <file-id>",
		Short: "Show a file record and where its chunks live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := st.app.Engine.GetFileInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, file)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", file.ID)
			fmt.Fprintf(out, "Name:      %s\n", file.Name)
			fmt.Fprintf(out, "Source:    %s\n", file.OriginalPath)
			fmt.Fprintf(out, "Size:      %s (%d bytes)\n", humanize.IBytes(uint64(file.Size)), file.Size)
			fmt.Fprintf(out, "Checksum:  %s:%s\n", file.ChecksumAlgorithm, file.Checksum)
			fmt.Fprintf(out, "Created:   %s\n", humanize.Time(file.CreatedAt))
			if file.LastAccessedAt != nil {
				fmt.Fprintf(out, "Accessed:  %s\n", humanize.Time(*file.LastAccessedAt))
			}
			fmt.Fprintf(out, "Complete:  %t\n\n", file.IsComplete() && file.ValidateIntegrity())

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tSIZE\tPROVIDER\tCHUNK ID")
			for _, c := range file.Chunks {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", c.SequenceNumber, c.Size, c.StorageProviderName, c.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func newListCmd(st *state) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chunked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := st.app.Engine.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, files)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSIZE\tCHUNKS\tCREATED")
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.ID, f.Name, humanize.IBytes(uint64(f.Size)), f.TotalChunks, humanize.Time(f.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the list as JSON")
	return cmd
}

func newDeleteCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a file's chunks and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.Engine.DeleteFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", args[0])
			return nil
		},
	}
}

func newVerifyCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file-id>",
		Short: "Check every chunk of a file without rebuilding it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := st.app.Engine.VerifyFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.Healthy {
				return fmt.Errorf("file %s is not healthy", report.FileID)
			}
			return nil
		},
	}
}

func newProvidersCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show what each storage provider holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := st.app.Engine.ProviderStats(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tCHUNKS\tBYTES")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Name, s.ChunkCount, humanize.IBytes(uint64(s.TotalBytes)))
			}
			return tw.Flush()
		},
	}
}
