package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitError   = 1
	exitInvalid = 2
)

// errInvalidConfig marks a configuration that loaded but failed validation.
var errInvalidConfig = errors.New("invalid configuration")

func exitCode(err error) int {
	if errors.Is(err, errInvalidConfig) {
		return exitInvalid
	}
	return exitError
}

// envDefault returns the environment value for key, or fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "identityctl",
		Short: "Operate a goIdentity deployment",
		Long: `identityctl manages the pieces of a goIdentity deployment that live
outside the host application: signing keys, configuration files and the
identity store.

Flags fall back to IDENTITY_* environment variables, which may also be set in
a .env file in the working directory.`,
		SilenceUsage: true,
	}
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newRevokeCmd())
	return root
}
