package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"runtime/pprof"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/scusemua/gokernel/common/jupyter"
	"github.com/scusemua/gokernel/common/utils"
	"github.com/scusemua/gokernel/kernel/daemon"
)

// Options are the command-line options of the kernel.
type Options struct {
	config.LoggerOptions       `yaml:",inline" json:"logger_options"`
	daemon.KernelDaemonOptions `yaml:",inline" json:"kernel_daemon_options"`

	PrettyPrintOptions bool `name:"pretty" json:"pretty" yaml:"pretty" description:"Print the options on startup."`
}

func (o *Options) Validate() error {
	if err := o.LoggerOptions.Validate(); err != nil {
		return err
	}

	return o.KernelDaemonOptions.Validate()
}

var (
	options      = Options{KernelDaemonOptions: daemon.DefaultKernelDaemonOptions()}
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// Kernel launchers such as Enterprise Gateway pass the kernel ID through the environment.
	options.KernelId = utils.GetEnv("KERNEL_ID", "")
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() {
	flags, err := config.ValidateOptions(&options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}

	// The connection file may be passed as in "gokernel -f <file>" or as in "gokernel <file>".
	if options.ConnectionFile == "" && flags.NArg() > 0 {
		options.ConnectionFile = flags.Arg(0)
	}

	if options.ConnectionFile == "" {
		fmt.Fprintln(os.Stderr, "a connection file is required")
		flags.PrintDefaults()
		os.Exit(2)
	}
}

func main() {
	defer finalize("Main thread")

	ValidateOptions()

	// Loggers created before the options were parsed do not know the log level yet.
	globalLogger = config.GetLogger("")

	if options.PrettyPrintOptions {
		globalLogger.Info("Starting kernel with the following options:\n%s\n", options.PrettyString(2))
	}

	connectionInfo, err := jupyter.LoadConnectionInfo(options.ConnectionFile)
	if err != nil {
		log.Fatalf("Failed to load connection file: %v", err)
	}
	globalLogger.Info("Loaded connection info: %s", connectionInfo.PrettyString(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start detecting stop signals
	go func() {
		defer finalize("Signal handler")

		s := <-sig
		globalLogger.Info("Received %v. Shutting down...", s)
		cancel()
	}()

	kernel := daemon.New(connectionInfo, &options.KernelDaemonOptions)

	if err := kernel.Run(ctx); err != nil {
		globalLogger.Error(utils.RedStyle.Render("Kernel %s stopped with an error: %v"), kernel.Id(), err)
		cancel()
		os.Exit(1)
	}

	globalLogger.Info(utils.GreenStyle.Render("Kernel %s exited cleanly."), kernel.Id())
}

// finalize reports a panic of the given goroutine, along with the stacks of every goroutine, and exits.
func finalize(identity string) {
	err := recover()
	if err == nil {
		return
	}

	globalLogger.Error("%s panicked: %v", identity, err)

	globalLogger.Error("Stack trace of CURRENT goroutine:")
	debug.PrintStack()

	globalLogger.Error("Stack traces of ALL active goroutines:")
	if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
		globalLogger.Error("Failed to output call stacks of all active goroutines: %v", err)
	}

	os.Exit(1)
}
