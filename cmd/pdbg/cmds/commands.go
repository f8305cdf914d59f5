package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-power/pdbg/pkg/backend"
	"github.com/open-power/pdbg/pkg/backend/sim"
	"github.com/open-power/pdbg/pkg/config"
	"github.com/open-power/pdbg/pkg/devicetree"
	"github.com/open-power/pdbg/pkg/logflags"
	"github.com/open-power/pdbg/pkg/proc"
	"github.com/open-power/pdbg/pkg/target"
	"github.com/open-power/pdbg/pkg/terminal"
	"github.com/open-power/pdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// backendName selects the hardware access method.
	backendName string
	// deviceTree is the path of the YAML device tree.
	deviceTree string
	// machineImage is the path of the machine image read by the sim backend.
	machineImage string

	// procs, cores and threads are index lists selecting targets.
	procs, cores, threads string
	// all selects every target.
	all bool
	// path is a selection path, overriding -p/-c/-t.
	path string

	// initFile is the path to initialization file.
	initFile string
	// regsOpts holds the flags of the regs subcommand.
	regsOpts proc.RegsOptions

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const pdbgCommandLongDesc = `pdbg is a debug probe for POWER processors.

It discovers the processors, cores and threads of a machine from a device
tree, and lets you stop, start, step and reset threads, inspect their state
and registers, and unwind their stacks.

Targets are selected with -p/-c/-t index lists, a selection path (-P) or -a
for every target. Without any of these every target is selected.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil && !docCall {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main pdbg root command.
	rootCommand = &cobra.Command{
		Use:           "pdbg",
		Short:         "pdbg is a debug probe for POWER processors.",
		Long:          pdbgCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'pdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'pdbg help log').")

	rootCommand.PersistentFlags().StringVar(&backendName, "backend", "", `Backend selection (see 'pdbg help backend').`)
	rootCommand.PersistentFlags().StringVar(&deviceTree, "device-tree", "", "Device tree describing the machine.")
	rootCommand.PersistentFlags().StringVar(&machineImage, "machine-image", "", "Machine image used by the sim backend.")

	rootCommand.PersistentFlags().StringVarP(&procs, "processor", "p", "", "Processor index list, e.g. 0,2-3.")
	rootCommand.PersistentFlags().StringVarP(&cores, "chip", "c", "", "Core index list.")
	rootCommand.PersistentFlags().StringVarP(&threads, "thread", "t", "", "Thread index list.")
	rootCommand.PersistentFlags().BoolVarP(&all, "all", "a", false, "Select every target.")
	rootCommand.PersistentFlags().StringVarP(&path, "path", "P", "", "Selection path, e.g. pib0/core1-3/thread*.")

	controlCommand := func(use, short string, fn controlFunc) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				os.Exit(execute(cmd.OutOrStdout(), fn))
			},
		}
	}

	rootCommand.AddCommand(controlCommand("start", "Starts the selected threads.", startThreads))
	rootCommand.AddCommand(controlCommand("stop", "Stops the selected threads.", stopThreads))
	rootCommand.AddCommand(controlCommand("sreset", "Sends a system reset to the selected threads.", sresetThreads))
	rootCommand.AddCommand(controlCommand("threadstatus", "Prints the state of every thread.", threadStatus))

	// 'step' subcommand.
	stepCommand := &cobra.Command{
		Use:   "step <count>",
		Short: "Executes instructions on the selected threads.",
		Long: `Executes count instructions on each selected thread.

The count is decimal, or hexadecimal with a 0x prefix. Threads must be stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := terminal.ParseCount(args[0])
			if err != nil {
				return err
			}
			os.Exit(execute(cmd.OutOrStdout(), stepThreads(count)))
			return nil
		},
	}
	rootCommand.AddCommand(stepCommand)

	// 'regs' subcommand.
	regsCommand := &cobra.Command{
		Use:   "regs",
		Short: "Prints the registers of every stopped thread.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(cmd.OutOrStdout(), dumpRegs))
		},
	}
	regsCommand.Flags().AddFlagSet(terminal.RegsFlags(&regsOpts))
	rootCommand.AddCommand(regsCommand)

	// 'probe' subcommand.
	probeCommand := &cobra.Command{
		Use:   "probe",
		Short: "Probes and prints the target tree.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(probe(cmd.OutOrStdout()))
		},
	}
	rootCommand.AddCommand(probeCommand)

	// 'shell' subcommand.
	shellCommand := &cobra.Command{
		Use:   "shell",
		Short: "Starts an interactive shell.",
		Long: `Starts an interactive shell on the selected targets.

Type 'help' at the prompt for the list of commands.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(shell())
		},
	}
	shellCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the shell.")
	rootCommand.AddCommand(shellCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file>",
		Short: "Runs a command file or a starlark script.",
		Long: `Runs a file of shell commands, one per line.

If the file name ends with the .star extension it is interpreted as a
starlark script and its main function, if any, is called.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(script(cmd.OutOrStdout(), args[0]))
		},
	}
	rootCommand.AddCommand(scriptCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.PdbgVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "backend",
		Short: "Help about the --backend flag.",
		Long: `The --backend flag specifies how pdbg reaches the hardware. Valid values are:

	sim		Simulated machine read from the --machine-image file.
	default		Uses the backend named in the configuration file, or sim.
`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	target		Log tree construction and probing.
	proc		Log run control operations (default).
	unwind		Log stack unwinding.
	backend		Log hardware accesses.
	devicetree	Log device tree parsing.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

type controlFunc func(ctrl *proc.Controller, out io.Writer) (int, error)

func startThreads(ctrl *proc.Controller, _ io.Writer) (int, error)  { return ctrl.Start() }
func stopThreads(ctrl *proc.Controller, _ io.Writer) (int, error)   { return ctrl.Stop() }
func sresetThreads(ctrl *proc.Controller, _ io.Writer) (int, error) { return ctrl.SReset() }

func threadStatus(ctrl *proc.Controller, out io.Writer) (int, error) {
	return ctrl.ThreadStatus(out)
}

func stepThreads(count int) controlFunc {
	return func(ctrl *proc.Controller, _ io.Writer) (int, error) {
		return ctrl.Step(proc.StepOptions{Count: count})
	}
}

func dumpRegs(ctrl *proc.Controller, out io.Writer) (int, error) {
	return ctrl.Regs(out, regsOpts)
}

// execute runs fn against the selected targets and returns the exit status.
func execute(out io.Writer, fn controlFunc) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	ctrl, err := newController()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	n, err := fn(ctrl, out)
	if n == 0 {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		fmt.Fprintln(os.Stderr, proc.ErrNoTargets)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return 0
}

func probe(out io.Writer) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	tr, _, err := loadTree()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := tr.Print(out); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func shell() int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	ctrl, err := newController()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	term := terminal.New(ctrl, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func script(out io.Writer, file string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	ctrl, err := newController()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	err = terminal.ExecFile(ctrl, conf, file, out)
	if err != nil {
		var ere terminal.ExitRequestError
		if errors.As(err, &ere) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// loadTree builds the target tree of the configured machine.
func loadTree() (*target.Tree, backend.Backend, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	dt := deviceTree
	if dt == "" {
		dt = conf.DeviceTree
	}
	if dt == "" {
		return nil, nil, errors.New("no device tree given, use --device-tree or set device-tree in the configuration file")
	}

	b, err := openBackend()
	if err != nil {
		return nil, nil, err
	}
	tr, err := target.Build(func(v devicetree.Visitor) error {
		return devicetree.ReadYAMLFile(dt, v)
	}, b)
	if err != nil {
		return nil, nil, err
	}
	return tr, b, nil
}

func openBackend() (backend.Backend, error) {
	name := backendName
	if name == "" || name == "default" {
		name = conf.Backend
	}
	switch name {
	case "", "sim":
		img := machineImage
		if img == "" {
			img = conf.MachineImage
		}
		var m *sim.Machine
		var err error
		if img == "" {
			m, err = sim.New(&sim.Image{})
		} else {
			m, err = sim.LoadFile(img)
		}
		if err != nil {
			return nil, err
		}
		return backend.CacheMemory(m, conf.CacheSize()), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (see 'pdbg help backend')", name)
	}
}

// newController builds the tree, selects and probes the requested targets.
func newController() (*proc.Controller, error) {
	tr, b, err := loadTree()
	if err != nil {
		return nil, err
	}
	switch {
	case path != "":
		if _, err := tr.Select(path); err != nil {
			return nil, err
		}
	case all || (procs == "" && cores == "" && threads == ""):
		tr.SelectAll()
	default:
		if _, err := tr.Select(target.PathSpec(procs, cores, threads)); err != nil {
			return nil, err
		}
	}
	tr.ProbeSelected()
	return proc.New(tr, b, proc.StackPolicy{StrictAddress: conf.StrictStackCheck}), nil
}
