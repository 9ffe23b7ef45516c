// Command ridgectl is a thin inspection tool for a cache.Manager's
// directory of caches: schema dumps, forced catch-up, and basic
// storage stats. It intentionally stops at inspection; the serving
// layer (gRPC/REST) that would front a production deployment is an
// external collaborator, not built here.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
