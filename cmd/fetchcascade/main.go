// Command fetchcascade is the CLI surface from spec §6: a single binary
// with one subcommand per external operation (fetch, batch, stats,
// schema), grounded on the teacher's cmd/cmd.go + util/main.go cobra
// commander pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fetchcascade/fetchcascade"
)

// RootCommand is the top-level cobra command; subcommand files register
// themselves onto it via their own init().
var RootCommand = &cobra.Command{
	Use:   "fetchcascade",
	Short: "Multi-tier content fetcher with learned tier ordering",
}

// ConfigPath is set by the global --config flag. Subcommands read it
// before touching fetchcascade.Config.
var ConfigPath string

func main() {
	RootCommand.PersistentFlags().StringVarP(&ConfigPath,
		"config", "c", "", "path to a config file to load")

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fetchcascade: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() {
	if ConfigPath != "" {
		if err := fetchcascade.ReadConfigFile(ConfigPath); err != nil {
			panic(err.Error())
		}
	}
}

// newCore reads the config (if --config was given) and builds a Core
// against the default FileStore backend.
func newCore() *fetchcascade.Core {
	loadConfig()
	core, err := fetchcascade.New()
	if err != nil {
		panic(err.Error())
	}
	return core
}
