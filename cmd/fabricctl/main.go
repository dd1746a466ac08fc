// Command fabricctl is a thin signed-HTTP client for the fabric
// control plane: it lists replicated entities and deploys Formfile
// workloads against a running fabricd node's state datastore, replacing
// the teacher's generated gRPC stub client (pkg/client), which has no
// equivalent without a running gRPC API server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	serverURL string
	keyPath   string
)

var rootCmd = &cobra.Command{
	Use:   "fabricctl",
	Short: "fabricctl talks to a fabric node's state datastore",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:3004", "base URL of the target node's state datastore")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", "", "path to the operator's secp256k1 key (generated on first use if absent)")

	rootCmd.AddCommand(nodeCmd, instanceCmd, peerCmd, dnsCmd, deployCmd, secretCmd)
}
