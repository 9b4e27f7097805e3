package cmd

import (
	"devstack/internal/vhost"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var (
	siteType   string
	siteRemove bool
)

// For mocking in tests
var copyToClipboard = clipboard.WriteAll

func newSiteCmd() *cobra.Command {
	siteCmd := &cobra.Command{
		Use:   "site",
		Short: "Manage local sites",
		Long: `Create local sites below the configured www root.

Every site <name> lives in <wwwRoot>/<name> and is served as http://<name>.test
once its virtual host exists. Creating a site also creates its virtual host
unless automatic virtual hosts are disabled in the configuration.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a site from the site catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  runSiteCreate,
	}
	createCmd.Flags().StringVarP(&siteType, "type", "t", "", "Site type from the site catalog (e.g. wordpress, laravel)")
	_ = createCmd.MarkFlagRequired("type")

	vhostCmd := &cobra.Command{
		Use:   "vhost <name>",
		Short: "Create or remove the virtual host of a site",
		Long: `Write the web server configs and hosts file entry for a site.

Existing configs and hosts entries are left unchanged, so running this
again is safe. With --remove the generated configs and the tagged hosts
line are deleted; hand-written hosts lines are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: runSiteVHost,
	}
	vhostCmd.Flags().BoolVar(&siteRemove, "remove", false, "Remove the virtual host instead of creating it")

	siteCmd.AddCommand(
		createCmd,
		vhostCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List sites in the www root",
			Args:  cobra.NoArgs,
			RunE:  runSiteList,
		},
	)
	return siteCmd
}

func runSiteCreate(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.Close()

	creator, err := a.SiteCreator()
	if err != nil {
		return err
	}
	if err := creator.Create(cmd.Context(), args[0], siteType, printer.Progress()); err != nil {
		return offerManualLine(cmd, err)
	}
	printer.Message("Created %s in %s", args[0], creator.Dir(args[0]))
	return nil
}

func runSiteVHost(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.Close()

	vhosts := a.Services().VHosts
	do := vhosts.CreateVirtualHost
	if siteRemove {
		do = vhosts.RemoveVirtualHost
	}
	return offerManualLine(cmd, do(cmd.Context(), args[0], printer.Progress()))
}

func runSiteList(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()
	creator, err := a.SiteCreator()
	if err != nil {
		return err
	}
	names, err := creator.List()
	if err != nil {
		return err
	}
	vhosts := a.Services().VHosts
	return printer.Sites(names, func(site string) string {
		return vhosts.MappingFor(site).Domain
	})
}

// offerManualLine copies the hosts line from a failed hosts update to the
// clipboard so the user can paste it into the hosts file.
func offerManualLine(cmd *cobra.Command, err error) error {
	line, ok := vhost.ManualLine(err)
	if !ok {
		return err
	}
	if cerr := copyToClipboard(line); cerr == nil {
		cmd.PrintErrln("The hosts line has been copied to the clipboard:")
	} else {
		cmd.PrintErrln("Add this line to the hosts file:")
	}
	cmd.PrintErrln("  " + line)
	return err
}
