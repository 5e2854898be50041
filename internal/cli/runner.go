// Package cli implements the gisbridge command-line client.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gisbridge/internal/bridgeclient"
)

const defaultAddr = "http://127.0.0.1:8000"

type Runner struct {
	client *bridgeclient.Client
	out    io.Writer
	errOut io.Writer
}

func NewRunner(addr string, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if addr == "" {
		addr = defaultAddr
	}
	return &Runner{
		client: bridgeclient.New(addr),
		out:    out,
		errOut: errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	addr, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if addr != "" {
		r.client = bridgeclient.New(addr)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "version":
		return r.runVersion(ctx)
	case "init-cmd":
		return r.runInitCmd(ctx)
	case "init-map":
		return r.runInitMap(ctx, rest[1:])
	case "init-layer":
		return r.runInitLayer(ctx, rest[1:])
	case "scale":
		return r.runScale(ctx, rest[1:])
	case "run":
		return r.runModule(ctx, rest[1:])
	case "dump":
		return r.runDump(ctx)
	case "history":
		return r.runHistory(ctx, rest[1:])
	case "quit":
		return r.runQuit(ctx)
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) runVersion(ctx context.Context) int {
	version, err := r.client.Version(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, version)
	return 0
}

func (r *Runner) runInitCmd(ctx context.Context) int {
	if err := r.client.InitCommandConsole(ctx); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "OK")
	return 0
}

func (r *Runner) runInitMap(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("init-map", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	grassdb := fs.String("grassdb", "", "path to the GIS database")
	location := fs.String("location", "", "location name")
	mapset := fs.String("mapset", "", "mapset name")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *grassdb == "" || *location == "" || *mapset == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: gisbridge init-map -grassdb <path> -location <name> -mapset <name>")
		return 2
	}
	err := r.client.InitMapset(ctx, bridgeclient.InitMapsetRequest{
		GrassDB:  *grassdb,
		Location: *location,
		Mapset:   *mapset,
	})
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "OK")
	return 0
}

func (r *Runner) runInitLayer(ctx context.Context, args []string) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: gisbridge init-layer <type:name[@mapset]>")
		return 2
	}
	if err := r.client.DisplayLayer(ctx, args[0]); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "OK")
	return 0
}

func (r *Runner) runScale(ctx context.Context, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: gisbridge scale <value>")
		return 2
	}
	scale, err := strconv.ParseFloat(args[0], 64)
	if err != nil || scale <= 0 {
		_, _ = fmt.Fprintln(r.errOut, "error: scale must be a positive number")
		return 2
	}
	if err := r.client.SetMapScale(ctx, scale); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "OK")
	return 0
}

func (r *Runner) runModule(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "request structured module output")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: gisbridge run [-json] <cmd> [key=value ...]")
		return 2
	}
	kwargs := map[string]any{}
	for _, arg := range rest[1:] {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			_, _ = fmt.Fprintf(r.errOut, "error: option %q must be key=value\n", arg)
			return 2
		}
		kwargs[key] = value
	}
	if *jsonOut {
		kwargs["format"] = "json"
	}
	resp, err := r.client.RunModule(ctx, bridgeclient.RunModuleRequest{Cmd: rest[0], Kwargs: kwargs})
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "returncode: %d\n", resp.ReturnCode)
	if doc, ok := resp.Stdout.Structured(); ok {
		_, _ = r.out.Write(doc)
		_, _ = fmt.Fprintln(r.out)
	} else if raw := resp.Stdout.Raw(); raw != "" {
		_, _ = fmt.Fprintln(r.out, raw)
	}
	if resp.ReturnCode != 0 {
		return 1
	}
	return 0
}

func (r *Runner) runDump(ctx context.Context) int {
	snap, err := r.client.Dump(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) runHistory(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 0, "maximum entries")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	env, err := r.client.History(ctx, *limit)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(env); err != nil {
			return r.handleErr(err)
		}
		return 0
	}
	for _, c := range env.Commands {
		exit := "-"
		if c.ExitCode != nil {
			exit = strconv.Itoa(*c.ExitCode)
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\t%dms\n", c.RequestedAt, c.Kind, c.ResultCode, exit, c.DurationMS)
	}
	return 0
}

func (r *Runner) runQuit(ctx context.Context) int {
	if err := r.client.Quit(ctx); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "OK")
	return 0
}

func (r *Runner) handleErr(err error) int {
	var cmdErr *bridgeclient.ErrCommandFailed
	if errors.As(err, &cmdErr) {
		_, _ = fmt.Fprintln(r.errOut, "ERROR")
		return 1
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, `usage: gisbridge [-addr <url>] <command>

commands:
  version                              print the bridge version
  init-cmd                             disable the command console for session setup
  init-map -grassdb -location -mapset  initialize the active mapset
  init-layer <type:name[@mapset]>      display a layer
  scale <value>                        pin the map scale
  run [-json] <cmd> [key=value ...]    run a GIS module
  dump                                 print the workstation snapshot
  history [-limit n] [-json]           list processed commands
  quit                                 shut the workstation down`)
}

// parseGlobalArgs peels a leading -addr flag off the argument list before
// subcommand dispatch.
func parseGlobalArgs(args []string) (string, []string, error) {
	addr := os.Getenv("GISBRIDGE_ADDR")
	rest := args
	for len(rest) > 0 {
		switch {
		case rest[0] == "-addr" || rest[0] == "--addr":
			if len(rest) < 2 {
				return "", nil, fmt.Errorf("-addr requires a value")
			}
			addr = rest[1]
			rest = rest[2:]
		case strings.HasPrefix(rest[0], "-addr="), strings.HasPrefix(rest[0], "--addr="):
			_, value, _ := strings.Cut(rest[0], "=")
			if value == "" {
				return "", nil, fmt.Errorf("-addr requires a value")
			}
			addr = value
			rest = rest[1:]
		default:
			return addr, rest, nil
		}
	}
	return addr, rest, nil
}
