// p2pchat joins a local group chat either as the group authority or as a
// peer of it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/p2pchat/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx, os.Args[1:], cli.StdIO()); err != nil {
		fmt.Fprintf(os.Stderr, "p2pchat: %v\n", err)
		os.Exit(1)
	}
}
