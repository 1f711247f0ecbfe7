package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/isdmx/runbox/archive"
	"github.com/isdmx/runbox/client"
)

// requestSlack is added to the sandbox budget for the HTTP timeout, covering
// container creation and removal on the server.
const requestSlack = 30 * time.Second

type options struct {
	server  string
	token   string
	format  string
	maxTime time.Duration
	list    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("runbox", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVarP(&opts.server, "server", "s", envOr("RUNBOX_SERVER", client.DefaultServer), "runbox server base URL")
	fs.StringVar(&opts.token, "token", os.Getenv("RUNBOX_TOKEN"), "bearer token")
	fs.StringVarP(&opts.format, "format", "f", client.FormatText, "output format: text, json or yaml")
	fs.DurationVarP(&opts.maxTime, "time", "t", 10*time.Second, "wall-clock budget for the run")
	fs.BoolVar(&opts.list, "list", false, "print the files that would be uploaded and exit")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: runbox [flags] <project-dir>\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	if err := client.CheckFormat(opts.format); err != nil {
		_, _ = fmt.Fprintf(stderr, "runbox: %v\n", err)
		return 2
	}

	data, err := archive.PackDir(fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "runbox: %v\n", err)
		return 1
	}

	if opts.list {
		names, err := archive.Names(data)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "runbox: %v\n", err)
			return 1
		}
		for _, name := range names {
			_, _ = fmt.Fprintln(stdout, name)
		}
		return 0
	}

	c := client.New(opts.server,
		client.WithToken(opts.token),
		client.WithHTTPClient(&http.Client{Timeout: opts.maxTime + requestSlack}),
	)
	result, err := c.Run(ctx, data, opts.maxTime)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "runbox: %v\n", err)
		return 1
	}

	if err := client.Write(stdout, stderr, result, opts.format); err != nil {
		_, _ = fmt.Fprintf(stderr, "runbox: %v\n", err)
		return 1
	}
	return client.ExitCode(result)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
