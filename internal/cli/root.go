// Package cli implements the logbull operator command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SalmanGits/Log-bull/pkg/api/client"
)

const (
	keyAPIURL   = "api_url"
	keyAPIToken = "api_token"
	keyOutput   = "output"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer
}

// NewRootCommand builds the logbull command tree writing results to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}
	root := &cobra.Command{
		Use:   "logbull",
		Short: "logbull: queue log files for ingestion and inspect the results",
		Long: `logbull talks to the logbull API. It submits log files to the priority
queue, follows ingestion progress and prints the aggregated statistics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: $HOME/.logbull.yaml)")
	flags.String("api-url", "http://localhost:4000", "logbull API base URL")
	flags.String("api-token", "", "bearer token for the API")
	flags.StringP("output", "o", "text", "output format: text, json")
	_ = a.v.BindPFlag(keyAPIURL, flags.Lookup("api-url"))
	_ = a.v.BindPFlag(keyAPIToken, flags.Lookup("api-token"))
	_ = a.v.BindPFlag(keyOutput, flags.Lookup("output"))

	root.AddCommand(
		a.submitCommand(),
		a.jobCommand(),
		a.statsCommand(),
		a.queueCommand(),
		a.watchCommand(),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.AddConfigPath(".")
		a.v.SetConfigName(".logbull")
		a.v.SetConfigType("yaml")
	}
	a.v.SetEnvPrefix("logbull")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing || a.cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) client() (*client.Client, error) {
	return client.New(a.v.GetString(keyAPIURL), client.WithToken(a.v.GetString(keyAPIToken)))
}

func (a *app) jsonOutput() bool {
	return strings.EqualFold(a.v.GetString(keyOutput), "json")
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
