package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devstack/internal/app"
	"devstack/internal/cli"
	"devstack/internal/services"

	"github.com/spf13/cobra"
)

// stopTimeout bounds how long stop waits for a process tree to exit.
var stopTimeout = 15 * time.Second

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage services",
		Long: `Manage the services of the local stack.

Services are installed from the service catalog below <baseDir>/bin and
started as detached background processes. A service started by one
invocation is found again by the next through its pid file.

Available commands:
  list       - List installed services with their status
  install    - Download and install services from the catalog
  uninstall  - Stop and remove an installed service
  start      - Start a service
  stop       - Stop a service
  toggle     - Start a stopped service or stop a running one
  status     - Show the status of one or all services
  run        - Run services in the foreground until interrupted`,
	}

	serviceCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List installed services",
			Args:  cobra.NoArgs,
			RunE:  runServiceList,
		},
		&cobra.Command{
			Use:   "install <name>...",
			Short: "Install services from the catalog",
			Long: `Download and install one or more services from the service catalog.

A service that is already installed is left untouched.
Use 'devstack catalog list' to see what can be installed.`,
			Args: cobra.MinimumNArgs(1),
			RunE: runServiceInstall,
		},
		&cobra.Command{
			Use:   "uninstall <name>",
			Short: "Uninstall a service",
			Args:  cobra.ExactArgs(1),
			RunE:  runServiceUninstall,
		},
		&cobra.Command{
			Use:   "start <name>",
			Short: "Start a service",
			Args:  cobra.ExactArgs(1),
			RunE:  runServiceStart,
		},
		&cobra.Command{
			Use:   "stop <name>",
			Short: "Stop a service",
			Args:  cobra.ExactArgs(1),
			RunE:  runServiceStop,
		},
		&cobra.Command{
			Use:   "toggle <name>",
			Short: "Start a stopped service or stop a running one",
			Args:  cobra.ExactArgs(1),
			RunE:  runServiceToggle,
		},
		&cobra.Command{
			Use:   "status [name]",
			Short: "Show the status of one or all services",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runServiceStatus,
		},
		&cobra.Command{
			Use:   "run [name]...",
			Short: "Run services in the foreground",
			Long: `Start the named services, or every installed service when none are
named, and supervise them until interrupted. On Ctrl+C all of them are
stopped before devstack exits.`,
			RunE: runServiceRun,
		},
	)
	return serviceCmd
}

func runServiceList(cmd *cobra.Command, args []string) error {
	return printServices(cmd, nil)
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	return printServices(cmd, args)
}

func printServices(cmd *cobra.Command, names []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()

	insts, err := selectInstances(a, names)
	if err != nil {
		return err
	}

	rows := make([]cli.ServiceRow, 0, len(insts))
	for _, inst := range insts {
		rows = append(rows, serviceRow(inst))
	}
	return printer.Services(rows)
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()
	cat, err := a.ServiceCatalog()
	if err != nil {
		return err
	}

	var failed []error
	for _, name := range args {
		def, ok := cat.Lookup(name)
		if !ok {
			failed = append(failed, fmt.Errorf("%s is not in the service catalog", name))
			continue
		}
		result := a.Services().Installer.Install(cmd.Context(), def, printer.Progress())
		if !result.Success {
			failed = append(failed, fmt.Errorf("%s: %w", name, result.Err))
		}
	}
	return errors.Join(failed...)
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()
	if inst, ok := a.Services().Registry.Get(args[0]); ok {
		a.Services().Runner.Adopt(inst)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
	defer cancel()
	return a.Services().Installer.Uninstall(ctx, args[0], printer.Progress())
}

// runServiceStart leaves the process running after devstack exits, so it
// must not close the application.
func runServiceStart(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()
	inst, err := lookupInstance(a, args[0])
	if err != nil {
		return err
	}
	if inst.Status() != services.StatusStopped {
		printer.Message("%s is already %s", inst.Name, inst.Status())
		return nil
	}
	if !a.Services().Runner.Start(inst) {
		return startError(inst)
	}
	return reportStarted(printer, inst)
}

// reportStarted confirms a start. The process may already have exited and
// released its handle by the time this runs.
func reportStarted(printer *cli.Printer, inst *services.Instance) error {
	if h := inst.Process(); h != nil {
		printer.Message("Started %s (pid %d)", inst.Name, h.PID())
		return nil
	}
	if err := inst.LastError(); err != nil {
		return fmt.Errorf("%s exited right after starting: %w", inst.Name, err)
	}
	printer.Message("Started %s; it has already exited", inst.Name)
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()
	inst, err := lookupInstance(a, args[0])
	if err != nil {
		return err
	}
	if inst.Status() == services.StatusStopped {
		printer.Message("%s is not running", inst.Name)
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
	defer cancel()
	if !a.Services().Runner.Stop(ctx, inst) {
		return stopError(inst)
	}
	printer.Message("Stopped %s", inst.Name)
	return nil
}

func runServiceToggle(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.CloseWatchers()
	inst, err := lookupInstance(a, args[0])
	if err != nil {
		return err
	}

	wasStopped := inst.Status() == services.StatusStopped
	ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
	defer cancel()
	if !a.Services().Runner.Toggle(ctx, inst) {
		if wasStopped {
			return startError(inst)
		}
		return stopError(inst)
	}
	printer.Message("%s is now %s", inst.Name, inst.Status())
	return nil
}

func runServiceRun(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	a, err := newApplication()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			printer.Error(err)
		}
	}()

	insts, err := selectInstances(a, args)
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		printer.Message("No services installed")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := printer.Progress()
	for _, inst := range insts {
		inst.SetStateChangeCallback(func(name string, _, newStatus services.Status, err error) {
			if err != nil {
				report(fmt.Sprintf("%s is %s: %v", name, newStatus, err))
				return
			}
			report(fmt.Sprintf("%s is %s", name, newStatus))
		})
		if inst.Status() == services.StatusStopped {
			a.Services().Runner.Start(inst)
		}
	}

	printer.Message("Running %d service(s); press Ctrl+C to stop", len(insts))
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	a.Services().Runner.StopAll(stopCtx, insts)
	return nil
}

func selectInstances(a *app.Application, names []string) ([]*services.Instance, error) {
	if len(names) == 0 {
		insts := a.Services().Registry.All()
		for _, inst := range insts {
			a.Services().Runner.Adopt(inst)
		}
		return insts, nil
	}
	insts := make([]*services.Instance, 0, len(names))
	for _, name := range names {
		inst, err := lookupInstance(a, name)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

func startError(inst *services.Instance) error {
	if err := inst.LastError(); err != nil {
		return fmt.Errorf("starting %s: %w", inst.Name, err)
	}
	return fmt.Errorf("%s is already %s", inst.Name, inst.Status())
}

func stopError(inst *services.Instance) error {
	if err := inst.LastError(); err != nil {
		return fmt.Errorf("stopping %s: %w", inst.Name, err)
	}
	return fmt.Errorf("%s was not running", inst.Name)
}
