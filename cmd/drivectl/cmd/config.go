package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// loadSettings resolves server and token from flags, DRIVECMS_* env vars
// and the config file, in that order. An explicit cfgFile must exist; the
// default ~/.config/drivectl/config.yaml is optional.
func loadSettings(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName("config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "drivectl"))
		}
	}

	v.SetEnvPrefix("DRIVECMS")
	v.AutomaticEnv()
	v.SetDefault("server", "http://localhost:8080")

	for _, name := range []string{"server", "token"} {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("bind %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
