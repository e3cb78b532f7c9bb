// Command hive runs a configured swarm or workflow against a prompt.
//
//	hive -config hive.toml "summarize the repo layout"
//	echo "review this diff" | hive -config hive.toml -
//	hive -config hive.toml -i
package main

import (
	"os"

	"github.com/nevindra/hive/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
