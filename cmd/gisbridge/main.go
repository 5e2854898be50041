package main

import (
	"context"
	"os"

	"gisbridge/internal/cli"
)

func main() {
	r := cli.NewRunner(os.Getenv("GISBRIDGE_ADDR"), os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}
