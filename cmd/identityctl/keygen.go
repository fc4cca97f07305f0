package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/keys"
)

func newKeygenCmd() *cobra.Command {
	var (
		dir string
		kid string
		alg string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair into a key directory",
		Long: `Generate an EdDSA or ES256 key pair and write it as <kid>.key.pem and
<kid>.pub.pem, the layout read by the keys.dir setting.

Examples:
  identityctl keygen --dir ./keys
  identityctl keygen --dir ./keys --kid 2026-03 --alg ES256`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kid == "" {
				kid = time.Now().UTC().Format("20060102T150405Z")
			}
			_, privPEM, pubPEM, err := keys.Generate(keys.Algorithm(alg), kid)
			if err != nil {
				return fmt.Errorf("generate %s key: %w", alg, err)
			}
			if err := keys.WriteKeyPair(dir, kid, privPEM, pubPEM); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kid)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", envDefault("IDENTITY_KEYS_DIR", "keys"), "key directory")
	cmd.Flags().StringVar(&kid, "kid", "", "key id (default: current UTC timestamp)")
	cmd.Flags().StringVar(&alg, "alg", string(keys.AlgEdDSA), "EdDSA or ES256")
	return cmd
}
