package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. CAPBRIDGE_PORT.
const envPrefix = "CAPBRIDGE"

var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:          "capbridge",
		Short:        "Bridge an FDC1004 capacitance sensor to a telemetry bus",
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (commit=%s)", version, commit),
	}

	cmd.PersistentFlags().String("config", "config.yaml", "Configuration file path")
	cmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "Log format override (text, json)")
	_ = v.BindPFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newPortsCmd())
	return cmd
}
