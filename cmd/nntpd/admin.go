package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nntpd/nntpd/internal/admin"
	"github.com/nntpd/nntpd/internal/store/memstore"
)

func newAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin",
		Short: "run the administrative console against a fresh store",
		RunE:  runAdmin,
	}
}

// runAdmin drives an interactive console over stdin/stdout. It operates
// on its own in-memory store rather than a running serve process's, since
// memstore carries no out-of-process transport; a persistent Store
// implementation could instead be opened here and shared with `serve`.
func runAdmin(cmd *cobra.Command, _ []string) error {
	backing := memstore.New()
	console := admin.NewConsole(backing, nil)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stdout, "nntpd admin console, type QUIT to exit")
	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		out, err := console.Execute(scanner.Text())
		if err == admin.ErrQuit {
			fmt.Fprintln(os.Stdout, out)
			return nil
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(os.Stdout, out)
		}
	}
}
