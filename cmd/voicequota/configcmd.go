package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/telemetry/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Check and print configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file",
	Long: `Load the config file with defaults and environment overrides applied
and report every validation error. Exits with status 2 on failure.`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and environment overrides.
Credentials are masked; ${secret:name} references are printed as written.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd, configShowCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (storage: %s, provider: %s, %d API keys)\n",
		cfgFile, cfg.Storage.Backend, cfg.Transcription.Provider, len(cfg.Security.Authentication.Keys))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	masked := maskSecrets(cfg)
	data, err := yaml.Marshal(masked)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// maskSecrets returns a copy of cfg with credentials masked.
func maskSecrets(cfg *config.Config) *config.Config {
	c := *cfg
	mask := func(s string) string {
		if s == "" || isSecretRef(s) {
			return s
		}
		return logging.RedactAPIKey(s)
	}

	c.Transcription.APIKey = mask(c.Transcription.APIKey)
	c.Client.Token = mask(c.Client.Token)
	c.Security.Authentication.JWT.Secret = mask(c.Security.Authentication.JWT.Secret)
	c.Storage.Postgres.DSN = mask(c.Storage.Postgres.DSN)
	c.Storage.Redis.URL = mask(c.Storage.Redis.URL)

	keys := make([]config.APIKeyConfig, len(c.Security.Authentication.Keys))
	for i, k := range c.Security.Authentication.Keys {
		k.Key = mask(k.Key)
		keys[i] = k
	}
	c.Security.Authentication.Keys = keys
	return &c
}

func isSecretRef(s string) bool {
	return len(s) > len("${secret:}") && s[:len("${secret:")] == "${secret:" && s[len(s)-1] == '}'
}
