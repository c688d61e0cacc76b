package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/resonantmind/mind/pkg/config"
	"github.com/resonantmind/mind/pkg/memory"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand()
	return root.Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "mindctl",
		Short: "Inspect and drive the long-term memory subsystem",
		Long: strings.TrimSpace(`mindctl is a small command-line harness around the resonance
pipeline, the narrative consolidation engine, and the Story file, useful for
onboarding a workspace and for manually driving either one outside of the
surrounding agent's turn loop.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newResonanceCommand())
	root.AddCommand(newConsolidateCommand())
	root.AddCommand(newStoryCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  mindctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.mind config and workspace directory",
		Example: "  mindctl onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(getConfigPath(), cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			if err := os.MkdirAll(cfg.WorkspacePath(), 0o755); err != nil {
				return fmt.Errorf("create workspace: %w", err)
			}
			fmt.Printf("%s is ready! Config written to %s\n", appName, getConfigPath())
			fmt.Println("Add your completion API key before driving resonance or consolidation:")
			fmt.Println("  mindctl status")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and workspace readiness",
		Example: "  mindctl status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			fmt.Printf("%s status\n", appName)
			fmt.Printf("Version: %s\n\n", formatVersion())

			configPath := getConfigPath()
			printReadiness("Config", configPath, fileExists(configPath))
			printReadiness("Workspace", cfg.WorkspacePath(), fileExists(cfg.WorkspacePath()))
			printReadiness("Graph DB", cfg.GraphDBPath(), fileExists(cfg.GraphDBPath()))

			apiReady := strings.TrimSpace(cfg.GetAPIKey()) != ""
			fmt.Println("Completion API key:", readyMark(apiReady))
			fmt.Println("Narrative consolidation:", readyMark(cfg.Narrative.Enabled))
			return nil
		},
	}
}

func newResonanceCommand() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "resonance <prompt>",
		Short: "Run the resonance pipeline once for a prompt and print the block",
		Args:  cobra.ExactArgs(1),
		Example: strings.Join([]string{
			"  mindctl resonance \"tell me about the trip we planned\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svc, err := buildService(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			req := memory.ResonanceRequest{
				Scope:          memory.Scope(scope),
				CurrentPrompt:  args[0],
				RewriteEnabled: true,
			}

			block := svc.Resonate(context.Background(), req)
			if block == "" {
				fmt.Println("(nothing resonates)")
				return nil
			}
			fmt.Println(block)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", string(memory.DefaultScope), "Memory scope to search within")
	return cmd
}

func newConsolidateCommand() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:     "consolidate",
		Short:   "Manually run a consolidation check for a scope",
		Example: "  mindctl consolidate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Narrative.Enabled {
				fmt.Println("Narrative consolidation is disabled in config.")
				return nil
			}

			adapter, err := memory.NewSQLiteGraphAdapter(cfg.GraphDBPath())
			if err != nil {
				return fmt.Errorf("open graph adapter: %w", err)
			}
			defer adapter.Close()

			gateway, gerr := buildGateway(cfg)
			if gerr != nil {
				fmt.Fprintf(os.Stderr, "warning: completion gateway unavailable, consolidation will keep the Story unchanged: %v\n", gerr)
			}

			story := memory.NewStory(filepath.Join(cfg.WorkspacePath(), cfg.Narrative.StoryFilename))
			pending := memory.NewPendingEpisodeLog(cfg.WorkspacePath())
			lock := memory.NewNarrativeLock("")
			engine := memory.NewConsolidationEngine(adapter, gateway, pending, story, lock, cfg.WorkspacePath())
			engine.TokenThreshold = cfg.Narrative.Threshold
			engine.SafeTokenLimit = cfg.Narrative.SafeTokenLimit
			engine.AutoBootstrapHistory = cfg.Narrative.AutoBootstrapHistory

			if err := engine.CheckAndConsolidate(context.Background(), memory.Scope(scope)); err != nil {
				return fmt.Errorf("consolidate: %w", err)
			}
			fmt.Println("Consolidation check complete.")
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", string(memory.DefaultScope), "Memory scope to consolidate")
	return cmd
}

func newStoryCommand() *cobra.Command {
	storyRoot := &cobra.Command{
		Use:   "story",
		Short: "Inspect the on-disk Story file",
	}

	storyRoot.AddCommand(&cobra.Command{
		Use:     "show",
		Short:   "Print the current Story body and its LAST_PROCESSED anchor",
		Example: "  mindctl story show",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			story := memory.NewStory(filepath.Join(cfg.WorkspacePath(), cfg.Narrative.StoryFilename))
			state, err := story.Load()
			if err != nil {
				return fmt.Errorf("load story: %w", err)
			}
			if state.IsNew {
				fmt.Println("(no narrative yet)")
				return nil
			}
			fmt.Printf("Last processed: %s\n\n", state.LastProcessed.Format(time.RFC3339))
			fmt.Println(state.Body)
			return nil
		},
	})

	return storyRoot
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func buildGateway(cfg *config.Config) (memory.CompletionGateway, error) {
	if strings.TrimSpace(cfg.Completion.APIKey) == "" {
		return nil, fmt.Errorf("completion.apiKey is not configured")
	}
	primary, err := memory.NewHTTPCompletionGateway(
		cfg.Completion.APIBase,
		memory.BearerAuth{APIKey: cfg.Completion.APIKey},
		cfg.Completion.Proxy,
		nil,
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Completion.FallbackModel) == "" {
		return primary, nil
	}
	return memory.NewFailoverGateway(primary, primary, cfg.Completion.FallbackModel), nil
}

func buildService(cfg *config.Config) (*memory.Service, error) {
	adapter, err := memory.NewSQLiteGraphAdapter(cfg.GraphDBPath())
	if err != nil {
		return nil, fmt.Errorf("open graph adapter: %w", err)
	}

	gateway, _ := buildGateway(cfg)

	svc, err := memory.NewService(memory.ServiceConfig{
		WorkspaceDir:         cfg.WorkspacePath(),
		Adapter:              adapter,
		Gateway:              gateway,
		SeedModel:            cfg.Completion.Model,
		FallbackModel:        cfg.Completion.FallbackModel,
		TokenThreshold:       cfg.Narrative.Threshold,
		SafeTokenLimit:       cfg.Narrative.SafeTokenLimit,
		StoryFilename:        cfg.Narrative.StoryFilename,
		AutoBootstrapHistory: cfg.Narrative.AutoBootstrapHistory,
		SkipResonance:        cfg.Narrative.SkipResonance,
	})
	if err != nil {
		adapter.Close()
		return nil, err
	}
	return svc, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readyMark(ok bool) string {
	if ok {
		return "✓"
	}
	return "not set"
}

func printReadiness(label, path string, ok bool) {
	mark := "✗"
	if ok {
		mark = "✓"
	}
	fmt.Printf("%s: %s %s\n", label, path, mark)
}
