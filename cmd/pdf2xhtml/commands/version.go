package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pdf2xhtml/internal/output"
	"github.com/jmylchreest/pdf2xhtml/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatStr, _ := cmd.Flags().GetString("format")
		format, err := output.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		w, err := output.New(os.Stdout, format)
		if err != nil {
			return err
		}
		if err := w.Write(version.Get()); err != nil {
			return err
		}
		return w.Close()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringP("format", "f", "text", "output format: text, json, yaml")
	rootCmd.Version = version.String()
}
