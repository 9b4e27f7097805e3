package cmd

import (
	"fmt"
	"os"

	"devstack/internal/app"
	"devstack/internal/cli"
	"devstack/internal/services"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// For mocking in tests
var newApplication = func() (*app.Application, error) {
	return app.NewApplication(app.NewConfig(logLevel, debug))
}

var stdoutIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newPrinter(cmd *cobra.Command) (*cli.Printer, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	return cli.NewPrinter(cli.Options{
		Format:       format,
		Quiet:        quiet,
		Color:        !noColor && os.Getenv("NO_COLOR") == "" && stdoutIsTerminal(),
		MaxPathWidth: 60,
		Out:          cmd.OutOrStdout(),
		Err:          cmd.ErrOrStderr(),
	}), nil
}

// lookupInstance finds an installed service and adopts a process started
// by an earlier invocation.
func lookupInstance(a *app.Application, name string) (*services.Instance, error) {
	s := a.Services()
	inst, ok := s.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("service %s is not installed (see 'devstack service list')", name)
	}
	s.Runner.Adopt(inst)
	return inst, nil
}

func serviceRow(inst *services.Instance) cli.ServiceRow {
	row := cli.ServiceRow{
		Name:     inst.Name,
		Category: inst.Category,
		Status:   inst.Status(),
		Managed:  inst.Managed,
		Path:     inst.Path,
	}
	if h := inst.Process(); h != nil {
		row.PID = h.PID()
	}
	if err := inst.LastError(); err != nil {
		row.LastError = err.Error()
	}
	return row
}
