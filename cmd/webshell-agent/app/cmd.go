package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/webshell/broker/internal/auth"
	"github.com/webshell/broker/internal/broker"
	"github.com/webshell/broker/internal/containerpool"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Option defines the options for the webshell-agent server.
type Option struct {
	Host string `toml:"host"`
	Port string `toml:"port"`

	LogLevel        string               `toml:"log_level"`
	BrokerConfig    broker.Config        `toml:"broker_config"`
	ContainerConfig containerpool.Config `toml:"container_config"`
	AuthConfig      auth.Config          `toml:"auth_config"`
}

// DefaultOption returns an Option populated with every package's defaults,
// used when no config file is present.
func DefaultOption() Option {
	return Option{
		Host:            "0.0.0.0",
		Port:            "3001",
		LogLevel:        "info",
		BrokerConfig:    broker.DefaultConfig(),
		ContainerConfig: containerpool.DefaultConfig(),
		AuthConfig:      auth.Config{Name: "trivial"},
	}
}

var (
	// Version is set at build time via -ldflags.
	Version    string
	configPath string
)

// NewCommand creates and returns the webshell-agent cobra command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webshell-agent",
		Short: "webshell-agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			options := DefaultOption()

			if configPath != "" {
				if err := loadConfigFromToml(&options); err != nil {
					return fmt.Errorf("failed to load config from toml: %w", err)
				}
			}

			if err := runServer(&options); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Display the current version of webshell-agent",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
	cmd.AddCommand(versionCmd)

	return cmd
}

func loadConfigFromToml(opt *Option) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	if _, err := toml.DecodeFile(configPath, opt); err != nil {
		return fmt.Errorf("error reading %s: %w", configPath, err)
	}

	return nil
}

func logGlobalConfig(opt *Option) {
	logrus.Info("webshell-agent start...")

	b, _ := json.Marshal(opt)
	logrus.Infof("config: %s", string(b))
}
