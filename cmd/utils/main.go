package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kitchensync/cmd/utils/internal/commands"
)

const (
	appName    = "kitchensync-utils"
	appVersion = "0.1.0"
	envPrefix  = "UTILS"
)

// command is one entry of the utility's command table. Usage text and
// dispatch are both derived from it.
type command struct {
	name    string
	aliases []string
	summary string
	// store marks commands that talk to MongoDB and need config and a logger.
	store bool
	run   func(ctx context.Context, inv invocation) error
}

type invocation struct {
	out      io.Writer
	config   *apt.Config
	logger   apt.Logger
	commands []command
}

type envVar struct {
	name, def, summary string
}

var errUnknownCommand = errors.New("unknown command")

func commandTable() []command {
	return []command{
		{
			name:    "seed-demo",
			summary: "Replace demo online orders with a fresh set timed around now",
			store:   true,
			run: func(ctx context.Context, inv invocation) error {
				return commands.SeedDemo(ctx, inv.config, inv.logger)
			},
		},
		{
			name:    "clear-demo",
			summary: "Remove demo online orders, leaving customer orders alone",
			store:   true,
			run: func(ctx context.Context, inv invocation) error {
				return commands.ClearDemo(ctx, inv.config, inv.logger)
			},
		},
		{
			name:    "version",
			summary: "Print version information",
			run: func(_ context.Context, inv invocation) error {
				_, err := fmt.Fprintf(inv.out, "%s version %s\n", appName, appVersion)
				return err
			},
		},
		{
			name:    "help",
			aliases: []string{"-h", "--help"},
			summary: "Show this help message",
			run: func(_ context.Context, inv invocation) error {
				return printUsage(inv.out, inv.commands)
			},
		},
	}
}

func storeEnv() []envVar {
	return []envVar{
		{envPrefix + "_DB_MONGO_URL", "mongodb://localhost:27017", "MongoDB connection URL"},
		{envPrefix + "_DB_MONGO_NAME", "kitchensync", "Database holding the online orders"},
		{envPrefix + "_LOG_LEVEL", "info", "Log level: debug, info, warn, error"},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	table := commandTable()
	if len(args) == 0 {
		_ = printUsage(stderr, table)
		return 2
	}

	cmd, ok := lookup(table, args[0])
	if !ok {
		fmt.Fprintf(stderr, "%s: %q\n\n", errUnknownCommand, args[0])
		_ = printUsage(stderr, table)
		return 2
	}

	inv := invocation{out: stdout, commands: table, logger: apt.NewNoopLogger()}
	if cmd.store {
		config, err := apt.LoadConfig(envPrefix, args[1:])
		if err != nil {
			fmt.Fprintf(stderr, "cannot load config: %v\n", err)
			return 1
		}
		inv.config = config
		inv.logger = apt.NewLogger(config.GetStringOrDef("log.level", "info"))
	}

	if err := cmd.run(ctx, inv); err != nil {
		inv.logger.Error("command failed", "command", cmd.name, "error", err)
		fmt.Fprintf(stderr, "%s failed: %v\n", cmd.name, err)
		return 1
	}
	if cmd.store {
		inv.logger.Info("command completed", "command", cmd.name)
	}
	return 0
}

func lookup(table []command, name string) (command, bool) {
	for _, c := range table {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return command{}, false
}

func printUsage(w io.Writer, table []command) error {
	fmt.Fprintf(w, "%s - kitchensync maintenance commands\n\nUsage:\n  %s <command> [options]\n\nCommands:\n", appName, appName)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	var example string
	for _, c := range table {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
		if c.store && example == "" {
			example = c.name
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprint(w, "\nEnvironment (database commands):\n")
	for _, e := range storeEnv() {
		fmt.Fprintf(tw, "  %s\t%s (default: %s)\n", e.name, e.summary, e.def)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if example != "" {
		fmt.Fprintf(w, "\nExample:\n  %s_DB_MONGO_NAME=kitchensync_dev %s %s\n", envPrefix, appName, example)
	}
	return nil
}
