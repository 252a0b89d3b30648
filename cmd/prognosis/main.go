package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mimir-aip/prognosis-go/pkg/logging"
	"github.com/mimir-aip/prognosis-go/pkg/plugins/builtin"
)

var (
	// Global flags
	verbose bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "prognosis",
	Short: "AutoML studies for tabular clinical data",
	Long: `prognosis searches imputation, preprocessing and prediction pipelines for
classification, regression and survival tasks on CSV data.

Studies checkpoint their best model and every evaluated trial, so running the
same study again continues the search where it stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level, "development")
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPluginsCmd())
	rootCmd.AddCommand(newPredictCmd())
	rootCmd.AddCommand(newEvaluateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registry is shared by every command
var registry = builtin.NewRegistry()
