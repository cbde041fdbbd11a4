// Lapsctl inspects and drives a LAPS deployment through its Redis
// broker.
//
// Usage:
//
//	lapsctl [--redis-host HOST] [--redis-port PORT] [--test] <command> [flags]
//
// Commands:
//
//	modules   List registered modules
//	logs      Print the shared module log stream
//	enqueue   Submit a job to a module's work queue
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laps-group/laps-go/broker"
)

// version is set through ldflags at build time.
var version = "dev"

type rootFlags struct {
	redisHost string
	redisPort int
	testMode  bool
}

func (f *rootFlags) dial() (broker.Client, error) {
	return broker.New(fmt.Sprintf("redis://%s:%d", f.redisHost, f.redisPort))
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "lapsctl",
		Short:         "lapsctl inspects and drives a LAPS deployment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.redisHost, "redis-host", "localhost", "Redis broker host")
	rootCmd.PersistentFlags().IntVar(&flags.redisPort, "redis-port", 6379, "Redis broker port")
	rootCmd.PersistentFlags().BoolVar(&flags.testMode, "test", false, "Operate on the test key namespace")

	rootCmd.AddCommand(
		newModulesCmd(flags),
		newLogsCmd(flags),
		newEnqueueCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
