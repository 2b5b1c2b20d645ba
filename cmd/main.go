// Package main is the entry point for the provider gateway.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const appName = "provider-gateway"

// Version is set at build time via ldflags.
var Version = "v0.1.0"

const banner = `
 ┌─┐┬─┐┌─┐┬  ┬┬┌┬┐┌─┐┬─┐  ┌─┐┌─┐┌┬┐┌─┐┬ ┬┌─┐┬ ┬
 ├─┘├┬┘│ │└┐┌┘│ ││├┤ ├┬┘  │ ┬├─┤ │ ├┤ │││├─┤└┬┘
 ┴  ┴└─└─┘ └┘ ┴─┴┘└─┘┴└─  └─┘┴ ┴ ┴ └─┘└┴┘┴ ┴ ┴
`

var brand = color.New(color.FgGreen, color.Bold)

func printBanner(w io.Writer) {
	_, _ = brand.Fprint(w, banner+"\n")
}

// loadEnvFiles loads .env from standard locations. Existing environment
// variables win over file values.
func loadEnvFiles() {
	if dir := configDir(); dir != "" {
		configEnv := filepath.Join(dir, ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	_ = godotenv.Load()
}

// configDir returns ~/.config/provider-gateway, or "" without a home dir.
func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", appName)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Provider gateway - one proxy for every LLM wire protocol",
		Long:          "Proxies OpenAI, Anthropic, Bedrock, Gemini, Zhipuai and Ollama traffic,\ncompressing tool results and enforcing tool-call policy on the way through.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			loadEnvFiles()
		},
	}
	root.AddCommand(
		newServeCmd(),
		newVersionCmd(),
		newTokensCmd(),
		newPricesCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", appName, Version)
			fmt.Fprintf(out, "Runtime: %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
