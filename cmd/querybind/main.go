// Command querybind binds OData query clauses from scenario files and
// evaluates them in memory or translates them to SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	_ "time/tzdata"

	"github.com/roach88/querybind/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
