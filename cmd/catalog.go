package cmd

import (
	"os"
	"os/signal"

	"devstack/internal/app"
	"devstack/internal/catalog"
	"devstack/internal/cli"
	"devstack/pkg/logging"

	"github.com/spf13/cobra"
)

var catalogWatch bool

func newCatalogCmd() *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse the service catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installable services",
		Long: `List the services of the service catalog, newest version first
within each category, and whether each one is installed.

With --watch the list is printed again whenever the catalog file changes.`,
		Args: cobra.NoArgs,
		RunE: runCatalogList,
	}
	listCmd.Flags().BoolVarP(&catalogWatch, "watch", "w", false, "Reprint when the catalog file changes")

	catalogCmd.AddCommand(listCmd)
	return catalogCmd
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()

	if err := printCatalog(a, printer); err != nil {
		return err
	}
	if !catalogWatch {
		return nil
	}

	path := a.Config().ServiceCatalog
	printer.Message("Watching %s for changes; press Ctrl+C to stop", path)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return catalog.Watch(ctx, path, func() {
		if err := printCatalog(a, printer); err != nil {
			logging.Error("Catalog", err, "Reloading %s failed", path)
			printer.Error(err)
		}
	})
}

func printCatalog(a *app.Application, printer *cli.Printer) error {
	cat, err := a.ServiceCatalog()
	if err != nil {
		return err
	}
	defs := cat.Definitions()
	rows := make([]cli.CatalogRow, 0, len(defs))
	for _, def := range defs {
		rows = append(rows, cli.CatalogRow{
			Name:        def.Name,
			Category:    def.Category,
			Installed:   a.Services().Installer.IsInstalled(def),
			Description: def.Description,
			URL:         def.URL,
		})
	}
	return printer.Catalog(rows)
}
