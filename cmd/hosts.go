package cmd

import (
	"devstack/internal/filesystem"
	"devstack/internal/vhost"

	"github.com/spf13/cobra"
)

var (
	hostsFile   string
	hostsLine   string
	hostsDomain string
	hostsMarker string
)

// newHostsCmd is the entry point of the elevated child that edits the hosts
// file. It loads no configuration so it works under a different user.
func newHostsCmd() *cobra.Command {
	hostsCmd := &cobra.Command{
		Use:    "hosts",
		Short:  "Edit the hosts file",
		Hidden: true,
	}

	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append a line unless its domain is already present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := vhost.AppendHostsLine(filesystem.OS{}, hostsFile, hostsLine)
			return err
		},
	}
	appendCmd.Flags().StringVar(&hostsFile, "file", "", "Hosts file to edit")
	appendCmd.Flags().StringVar(&hostsLine, "line", "", "Line to append")
	_ = appendCmd.MarkFlagRequired("file")
	_ = appendCmd.MarkFlagRequired("line")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the marker-tagged lines of a domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := vhost.RemoveHostsLines(filesystem.OS{}, hostsFile, hostsDomain, hostsMarker)
			return err
		},
	}
	removeCmd.Flags().StringVar(&hostsFile, "file", "", "Hosts file to edit")
	removeCmd.Flags().StringVar(&hostsDomain, "domain", "", "Domain whose lines are removed")
	removeCmd.Flags().StringVar(&hostsMarker, "marker", "", "Marker comment tagging managed lines")
	_ = removeCmd.MarkFlagRequired("file")
	_ = removeCmd.MarkFlagRequired("domain")
	_ = removeCmd.MarkFlagRequired("marker")

	hostsCmd.AddCommand(appendCmd, removeCmd)
	return hostsCmd
}
