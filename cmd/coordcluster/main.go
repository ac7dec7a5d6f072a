// Command coordcluster labels 2-D coordinates with k-means clusters,
// choosing the cluster count from the elbow of the distortion curve.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/coordcluster/internal/fsutil"
	"github.com/banshee-data/coordcluster/internal/version"
)

// errUsage marks a command-line mistake; the usage text has already been
// printed.
var errUsage = errors.New("usage error")

type app struct {
	fs     fsutil.FileSystem
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{fs: fsutil.OSFileSystem{}, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Printf("coordcluster: %v", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		a.printUsage()
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "label":
		return a.label(ctx, rest)
	case "serve":
		return a.serve(ctx, rest)
	case "submit":
		return a.submit(ctx, rest)
	case "runs":
		return a.runs(ctx, rest)
	case "migrate":
		return a.migrate(rest)
	case "config":
		return a.showConfig(rest)
	case "version":
		fmt.Fprintln(a.stdout, version.String())
		return nil
	case "help", "-h", "--help":
		a.printUsage()
		return nil
	default:
		fmt.Fprintf(a.stderr, "Unknown command: %s\n\n", command)
		a.printUsage()
		return errUsage
	}
}

func (a *app) printUsage() {
	fmt.Fprintln(a.stderr, `coordcluster - elbow-selected k-means labels for coordinates

Usage: coordcluster <command> [options]

Commands:
  label      Cluster a CSV of coordinates and write labels
  serve      Run the HTTP clustering service
  submit     Send a CSV to a running service
  runs       List runs recorded in a database
  migrate    Apply or inspect database migrations (up, down, status)
  config     Print the effective clustering configuration
  version    Show version information
  help       Show this help message

Input CSVs need a header row. When longitude and latitude columns are
present they are used; otherwise the file must have exactly two columns.

Examples:
  coordcluster label -in stores.csv -out labelled.csv -png clusters.png
  coordcluster label -in - -k 2:10:1 -seed 7 < points.csv
  coordcluster serve -listen :8080 -db coordcluster.db
  coordcluster submit -server http://localhost:8080 -in stores.csv`)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return errUsage
	}
	return nil
}
