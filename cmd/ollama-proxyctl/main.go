// Command ollama-proxyctl is an auxiliary CLI for inspecting and
// stopping models on the host Ollama install the proxy forwards to.
// It never touches the proxy's request pipeline.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/billziss-gh/golib/shlex"
	"github.com/ollamarelay/gateway/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	ollamaCmd  string
)

func main() {
	root := &cobra.Command{
		Use:   "ollama-proxyctl",
		Short: "Inspect and stop models running under the host Ollama install",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "proxy config file, used to validate model names")
	root.PersistentFlags().StringVar(&ollamaCmd, "ollama-cmd", "ollama", "command used to invoke the ollama binary")

	root.AddCommand(psCmd(), sweepCmd(), stopCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// ollamaArgv splits the configured --ollama-cmd string into argv, the same
// way the proxy's teacher sanitizes a user-supplied command line: strip
// comment lines, join trailing-backslash continuations, then split on
// whitespace with POSIX or Windows quoting rules.
func ollamaArgv(extra ...string) ([]string, error) {
	var cleanedLines []string
	for _, line := range strings.Split(ollamaCmd, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasSuffix(trimmed, "\\") {
			cleanedLines = append(cleanedLines, strings.TrimSuffix(trimmed, "\\")+" ")
		} else {
			cleanedLines = append(cleanedLines, line)
		}
	}
	joined := strings.Join(cleanedLines, "\n")

	var args []string
	if runtime.GOOS == "windows" {
		args = shlex.Windows.Split(joined)
	} else {
		args = shlex.Posix.Split(joined)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty ollama command")
	}
	return append(args, extra...), nil
}

func runOllama(extra ...string) (stdout string, err error) {
	argv, err := ollamaArgv(extra...)
	if err != nil {
		return "", err
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	var out, stderr strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", strings.Join(argv, " "), msg)
	}
	return out.String(), nil
}

// parseRunningModels extracts model names from `ollama ps` output, which
// is a header line followed by one line per running model, whitespace
// separated with the model name first.
func parseRunningModels(output string) []string {
	var models []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			models = append(models, fields[0])
		}
	}
	return models
}

func psCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List models currently running under the host Ollama install",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := runOllama("ps")
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <model>",
		Short: "Stop one running model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			if err := validateKnownModel(model); err != nil {
				return err
			}
			if _, err := runOllama("stop", model); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", model)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Stop every model currently running under the host Ollama install",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := runOllama("ps")
			if err != nil {
				return err
			}
			models := parseRunningModels(out)
			if len(models) == 0 {
				fmt.Println("no running models")
				return nil
			}

			var stopped, failed []string
			for _, model := range models {
				if _, err := runOllama("stop", model); err != nil {
					failed = append(failed, model)
					continue
				}
				stopped = append(stopped, model)
			}

			for _, model := range stopped {
				fmt.Printf("stopped %s\n", model)
			}
			for _, model := range failed {
				fmt.Printf("failed to stop %s\n", model)
			}
			if len(failed) > 0 {
				return fmt.Errorf("failed to stop %d model(s)", len(failed))
			}
			return nil
		},
	}
}

// validateKnownModel confirms model is one the proxy's config knows
// about, so a typo fails fast instead of silently no-op'ing in ollama.
func validateKnownModel(model string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	for _, name := range cfg.ModelNames() {
		if name == model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not configured in %s", model, configPath)
}
