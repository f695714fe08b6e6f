// Package commands implements the CLI commands for pdf2xhtml.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/pdf2xhtml/internal/config"
	"github.com/jmylchreest/pdf2xhtml/internal/job"
	"github.com/jmylchreest/pdf2xhtml/internal/logger"
	"github.com/jmylchreest/pdf2xhtml/pkg/extract"
)

var rootCmd = &cobra.Command{
	Use:   "pdf2xhtml",
	Short: "Convert PDF documents to archived XHTML",
	Long: `pdf2xhtml runs an external extraction tool over PDF documents and
normalizes the HTML it produces into well-formed XHTML, packaged as a zip
archive per document.

Run it as an HTTP service with asynchronous jobs, or convert local files
directly.

Examples:
  # Serve the upload API on :5000
  pdf2xhtml serve --addr :5000

  # Convert a local document and print the job result
  pdf2xhtml convert report.pdf

  # Sanitize and convert a single HTML file without the extractor
  pdf2xhtml clean --xhtml page.html -o page.xhtml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default ./.pdf2xhtml.yaml or $HOME/.pdf2xhtml.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log.quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".pdf2xhtml")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// bindFlags binds flags of cmd to config keys. Commands bind from PreRunE
// because several of them share keys and viper keeps one flag per key.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

// loadConfig decodes and validates the merged configuration and applies the
// logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{
		Debug: cfg.Log.Debug,
		Quiet: cfg.Log.Quiet,
		JSON:  cfg.Log.JSON,
	})
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config file", "path", used)
	}
	return cfg, nil
}

func newInvoker(cfg *config.Config) extract.Invoker {
	opts := []extract.ExecOption{
		extract.WithCommand(cfg.Extractor.Command, cfg.Extractor.Args...),
		extract.WithJar(cfg.Extractor.Jar),
		extract.WithTimeout(cfg.Extractor.Timeout),
		extract.WithRunner(extract.ExecRunner{KillGrace: cfg.Extractor.KillGrace}),
	}
	if cfg.Extractor.Bundle != "" {
		bundle := extract.NewBundle(cfg.Extractor.Bundle, cfg.Extractor.BundleDir, filepath.Base(cfg.Extractor.Jar))
		opts = append(opts, extract.WithBundle(bundle))
	}
	return extract.NewExecInvoker(opts...)
}

func newManager(cfg *config.Config) (*job.Manager, error) {
	sanitizeCfg := cfg.Sanitize
	return job.NewManagerWithConfig(newInvoker(cfg), job.Config{
		UploadsDir:      cfg.Storage.UploadsDir,
		OutputsDir:      cfg.Storage.OutputsDir,
		Workers:         cfg.Jobs.Workers,
		QueueSize:       cfg.Jobs.QueueSize,
		Timeout:         cfg.Jobs.Timeout,
		Retention:       cfg.Jobs.Retention,
		JanitorInterval: cfg.Jobs.JanitorInterval,
		FailurePolicy:   job.FailurePolicy(cfg.Jobs.FailurePolicy),
		Sanitize:        &sanitizeCfg,
	})
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints a progress message to stderr unless quiet.
func logInfo(format string, args ...any) {
	if !viper.GetBool("log.quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
