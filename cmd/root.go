package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	outputFormat string
	quiet        bool
	logLevel     string
	debug        bool
	noColor      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devstack",
	Short: "Run a local web development stack",
	Long: `devstack installs, starts and stops the services of a local web
development stack (web servers, databases, language runtimes) and creates
sites with their own <name>.test virtual host and hosts file entry.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed downloads, locked files)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "devstack version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServiceCmd())
	rootCmd.AddCommand(newSiteCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newHostsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}
