package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/loqalabs/loqa-grammar/internal/config"
	"gopkg.in/yaml.v3"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var configPath string
	validateCmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	validateCmd.SetOutput(stderr)
	validateCmd.StringVar(&configPath, "file", "loqa-grammar.yaml", "Path to configuration file")

	if len(args) < 1 {
		fmt.Fprintln(stderr, "expected 'validate', 'defaults' or 'version'")
		return 2
	}

	switch args[0] {
	case "validate":
		if err := validateCmd.Parse(args[1:]); err != nil {
			return 2
		}
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, "configuration valid")
	case "defaults":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(config.Default()); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		enc.Close()
	case "version":
		fmt.Fprintln(stdout, version)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}
	return 0
}
