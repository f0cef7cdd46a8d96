package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "meg",
	Short: "MEG - serve files out of archives on an S3-compatible store",
	Long: `MEG fronts an S3-compatible object store and serves individual files
from within archive objects (tar, tar.gz, zip) over HTTP, as if the
archives were directories.`,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
