package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/voicequota/pkg/cli"
	"mercator-hq/voicequota/pkg/config"
	"mercator-hq/voicequota/pkg/security/auth"
	"mercator-hq/voicequota/pkg/security/secrets"
)

// APIKeyPrefix marks keys generated by this tool.
const APIKeyPrefix = "vq_"

var keysFlags struct {
	user  string
	bytes int
	ttl   time.Duration
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage client credentials",
	Long: `Generate API keys and issue session tokens.

Subcommands:
  generate - Generate a random API key and print its config entry
  token    - Issue an HS256 session token signed with the configured secret

Examples:
  # New API key for alice
  voicequota keys generate --user alice

  # One-day session token for bob
  voicequota keys token --user bob --ttl 24h`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API key",
	Long: `Generate a random API key and print the entry to add under
security.authentication.keys. The server picks up new keys without a
restart.`,
	RunE: runKeysGenerate,
}

var keysTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token",
	Long: `Issue a session token for a user, signed with
security.authentication.jwt.secret from the config file. The secret may
be a ${secret:name} reference.`,
	RunE: runKeysToken,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysTokenCmd)

	keysGenerateCmd.Flags().StringVarP(&keysFlags.user, "user", "u", "", "user the key authenticates as (required)")
	keysGenerateCmd.Flags().IntVar(&keysFlags.bytes, "bytes", 24, "random bytes in the key")
	_ = keysGenerateCmd.MarkFlagRequired("user")

	keysTokenCmd.Flags().StringVarP(&keysFlags.user, "user", "u", "", "token subject (required)")
	keysTokenCmd.Flags().DurationVar(&keysFlags.ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = keysTokenCmd.MarkFlagRequired("user")
}

// generateAPIKey returns a URL-safe random key with APIKeyPrefix.
func generateAPIKey(r io.Reader, n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("key must have at least 16 random bytes, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	key, err := generateAPIKey(rand.Reader, keysFlags.bytes)
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	snippet, err := yaml.Marshal([]config.APIKeyConfig{{Key: key, UserID: keysFlags.user}})
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key for %s:\n  %s\n\n", keysFlags.user, key)
	fmt.Fprintln(out, "⚠️  Store the key securely and never commit it to version control")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Add under security.authentication.keys:")
	fmt.Fprint(out, string(snippet))
	return nil
}

func runKeysToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	mgr, err := secrets.FromConfig(cfg.Security.Secrets)
	if err != nil {
		return cli.NewConfigError("security.secrets", err.Error())
	}
	defer mgr.Close()
	if err := mgr.ResolveConfig(ctx, cfg); err != nil {
		return cli.NewConfigError("security.secrets", err.Error())
	}

	jwtCfg := cfg.Security.Authentication.JWT
	if jwtCfg.Secret == "" {
		return cli.NewConfigError("security.authentication.jwt.secret", "session tokens are disabled (no secret configured)")
	}
	v, err := auth.NewJWTValidator(auth.JWTConfig{
		Secret:   []byte(jwtCfg.Secret),
		Issuer:   jwtCfg.Issuer,
		Audience: jwtCfg.Audience,
		Leeway:   jwtCfg.Leeway,
	})
	if err != nil {
		return cli.NewConfigError("security.authentication.jwt.secret", err.Error())
	}

	token, err := v.Issue(keysFlags.user, keysFlags.ttl)
	if err != nil {
		return cli.NewCommandError("keys token", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
