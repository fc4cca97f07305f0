package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/keys"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect goIdentity configuration files",
	}
	cmd.AddCommand(newConfigCheckCmd())
	cmd.AddCommand(newConfigReportCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a YAML or TOML configuration file",
		Long: `Validate a configuration file the same way the engine builder does.
Exits with status 2 when the file parses but is not a valid configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

func newConfigReportCmd() *cobra.Command {
	var (
		keysDir string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "report <file>",
		Short: "Print the security posture of a configuration",
		Long: `Print the security report for a configuration file, including every
setting that is legal but weaker than recommended.

Examples:
  identityctl config report identity.yaml
  identityctl config report identity.yaml --keys-dir ./keys -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			if keysDir == "" {
				keysDir = cfg.Keys.Dir
			}
			var ring *keys.Ring
			if keysDir != "" {
				set, err := keys.LoadDir(keysDir, cfg.Keys.CurrentKID)
				if err != nil {
					return err
				}
				if ring, err = keys.NewRing(set.Signing, set.Verify...); err != nil {
					return err
				}
			}
			return writeReport(cmd.OutOrStdout(), goIdentity.ConfigReport(cfg, ring), output)
		},
	}
	cmd.Flags().StringVar(&keysDir, "keys-dir", "", "key directory (default: keys.dir from the file)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func loadConfig(path string) (goIdentity.Config, error) {
	cfg, err := goIdentity.LoadConfigFile(path)
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return goIdentity.Config{}, err
	}
	if err != nil {
		return goIdentity.Config{}, fmt.Errorf("%w: %v", errInvalidConfig, err)
	}
	return cfg, nil
}

func writeReport(w io.Writer, r goIdentity.SecurityReport, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(r)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"production mode", fmt.Sprint(r.ProductionMode)},
		{"signing", strings.TrimSpace(r.SigningAlgorithm + " " + r.SigningKeyID)},
		{"verification keys", fmt.Sprint(r.VerificationKeys)},
		{"access ttl", r.AccessTTL.String()},
		{"refresh ttl", r.RefreshTTL.String()},
		{"reauth ttl", r.ReauthTTL.String()},
		{"password", r.Password.Algorithm},
		{"rate limiting", fmt.Sprint(r.RateLimitingActive)},
		{"per-ip limits", fmt.Sprint(r.PerIPLimits)},
		{"mfa attempts", fmt.Sprint(r.MFAMaxAttempts)},
		{"totp replay protection", fmt.Sprint(r.TOTPReplayProtection)},
		{"redirect allow list", fmt.Sprint(r.RedirectAllowList)},
		{"secure cookies", fmt.Sprint(r.SecureCookies)},
		{"audit", fmt.Sprint(r.AuditEnabled)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}
