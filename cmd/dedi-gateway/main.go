package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Firefox2100/dedi-gateway/pkg/config"
	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// Build metadata, overridden through -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errdefs.IsKind(err, errdefs.KindConfigurationParsing) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dedi-gateway",
	Short: "Dedi Gateway - decentralised federation gateway",
	Long: `Dedi Gateway connects a service into decentralised federations:
it joins networks through a proof-of-work admission handshake, keeps
persistent connections to the other members, and routes signed
messages between them and the service it fronts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Dedi Gateway version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the effective configuration after the environment and an
optional .env file are applied. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		redacted := cfg.Redacted()
		keys := make([]string, 0, len(redacted))
		for key := range redacted {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			fmt.Printf("%-22s %s\n", key, redacted[key])
		}

		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nWarning: %v\n", err)
		}
		return nil
	},
}
