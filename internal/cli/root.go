// Package cli is a terminal front end for the studio. It talks to a running
// server's /api/generate-image endpoint and keeps the conversation locally.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"studio-backend/internal/client"
)

const defaultServerURL = "http://localhost:8080"

func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Settings resolve flag, then
// STUDIO_* environment variable, then config file.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "studio-cli",
		Short:         "Generate and iterate on images through a studio server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.studio-cli.yaml)")
	root.PersistentFlags().String("server", defaultServerURL, "Base URL of the studio server")
	root.PersistentFlags().Duration("timeout", 2*time.Minute, "Per-request timeout")
	v.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	root.AddCommand(newGenerateCommand(v), newChatCommand(v))
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("studio")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".studio-cli")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}
	return nil
}

func newProxyClient(v *viper.Viper) *client.ProxyClient {
	return client.NewProxyClient(v.GetString("server"), &http.Client{Timeout: v.GetDuration("timeout")})
}
