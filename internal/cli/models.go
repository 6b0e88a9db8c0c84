package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lens/internal/config"
	"github.com/dshills/lens/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List oracle backends and check credentials",
}

// backend describes one Completer transport and the environment it reads.
type backend struct {
	Name    string
	KeyEnv  []string
	Suggest []string
}

var backends = []backend{
	{Name: "anthropic", KeyEnv: []string{"ANTHROPIC_API_KEY"}, Suggest: []string{"claude-opus-4-1", "claude-3-5-haiku-latest"}},
	{Name: "openai", KeyEnv: []string{"OPENAI_API_KEY"}, Suggest: []string{"gpt-4.1", "gpt-4.1-mini", "o3-mini"}},
	{Name: "gemini", KeyEnv: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, Suggest: []string{"gemini-2.5-pro"}},
	{Name: "ollama", Suggest: []string{"qwen2.5-coder", "llama3.1"}},
}

func (b backend) credentialState() string {
	if len(b.KeyEnv) == 0 {
		return "not required"
	}
	for _, k := range b.KeyEnv {
		if os.Getenv(k) != "" {
			return k + " set"
		}
	}
	return b.KeyEnv[0] + " missing"
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List oracle backends, their default models and credential state",
	Run: func(cmd *cobra.Command, args []string) {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tDEFAULT\tCREDENTIALS\tALSO")
		for _, b := range backends {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Name, providers.DefaultModel(b.Name), b.credentialState(), strings.Join(b.Suggest, ", "))
		}
		tw.Flush()
	},
}

var modelsDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Send a one-token request to the configured oracle backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(buildOverrides())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Checking %s (%s)...\n", cfg.Provider, model(cfg))

		c, err := newCompleter(cfg.Provider, model(cfg))
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			exitCode = ExitAuthError
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		start := time.Now()
		_, err = c.Complete(ctx, providers.Request{
			System:    "Respond with exactly: ok",
			Messages:  []providers.Message{{Role: providers.RoleUser, Content: "ping"}},
			MaxTokens: 10,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			exitCode = ExitRuntimeError
			if providers.IsAuthError(err) {
				exitCode = ExitAuthError
			}
			return nil
		}

		fmt.Fprintf(out, "OK: %s answered in %s\n", cfg.Provider, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsDoctorCmd)
	modelsDoctorCmd.Flags().StringVar(&flagProvider, "provider", "", "Backend to check")
	modelsDoctorCmd.Flags().StringVar(&flagModel, "model", "", "Model to check")
}
