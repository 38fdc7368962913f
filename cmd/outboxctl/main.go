/**
 * @description
 * outboxctl is the operator CLI for the rent service's receipt outbox. It lists items and
 * triggers retries through the admin HTTP API.
 */

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
