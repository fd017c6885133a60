package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "./execbin.yaml"
	configEnv         = "EXECBIN_CONFIG"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "execbin",
		Short:         "execbin runs scripts from $HOME/bin on a fixed cadence",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadDotEnv(".env")
		},
	}
	root.AddCommand(newRunCmd(), newOnceCmd(), newAuditCmd(), newVersionCmd())
	return root
}

// loadDotEnv loads path into the environment if it exists.
// Variables already set win over the file.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// configPath picks --config, then $EXECBIN_CONFIG, then the default.
func configPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(configEnv)); p != "" {
		return p
	}
	return defaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("execbin", version)
		},
	}
}
