// Package cli implements the chunkctl command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/maneesh/scatterstore/internal/app"
	"github.com/maneesh/scatterstore/internal/config"
	"github.com/maneesh/scatterstore/internal/logging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type state struct {
	configPath string
	logLevel   string
	noProgress bool

	app *app.App
}

// NewRootCmd builds the chunkctl command tree. The returned close func
// releases whatever the command opened and must run after Execute.
func NewRootCmd() (*cobra.Command, func() error) {
	st := &state{}

	root := &cobra.Command{
		Use:           "chunkctl",
		Short:         "split files into chunks across storage providers and rebuild them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return st.open(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&st.noProgress, "no-progress", false, "disable progress bars")

	root.AddCommand(
		newChunkCmd(st),
		newReconstructCmd(st),
		newInfoCmd(st),
		newListCmd(st),
		newDeleteCmd(st),
		newVerifyCmd(st),
		newProvidersCmd(st),
	)
	return root, st.close
}

// Execute runs chunkctl with os.Args.
func Execute() {
	root, closeApp := NewRootCmd()
	err := root.Execute()
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (st *state) open(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(st.configPath)
	if err != nil {
		return err
	}
	if st.logLevel != "" {
		cfg.Logging.Level = st.logLevel
	}

	log, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	st.app, err = app.Build(cmd.Context(), cfg, log)
	return err
}

func (st *state) close() error {
	if st.app == nil {
		return nil
	}
	err := st.app.Close()
	st.app = nil
	return err
}

func (st *state) progress(cmd *cobra.Command, size int64, description string) io.Writer {
	if st.noProgress {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
