// Command identityctl is the operator tool for goIdentity deployments. It
// generates signing keys, checks configuration files, migrates identity
// stores and revokes every session of an identity.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env") // optional

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
