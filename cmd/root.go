package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"remotebuild/internal/config"
	"remotebuild/internal/logging"
	"remotebuild/internal/pipeline/executor"
	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/util"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configFile string
	logLevel   string
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "remotebuild",
		Short: "Build a local project on a remote machine over SSH",
		Long: `Push the local project tree to a remote host, run the configured build
commands there, pull the output directory back and run the post-build
commands. Settings are read from remotebuild.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logging.Init(os.Stderr, lvl, nil)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.ConfigFileName, "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newPullCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newMenuCmd())
}

// Execute runs the CLI with SIGINT/SIGTERM cancelling between phases.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.Default.Printf("❌ %v\n", err)
		return err
	}
	return nil
}

// configPath returns the --config value, or when the flag was not given, the
// nearest remotebuild.yaml in the working directory or one of its parents.
func configPath() string {
	if rootCmd.PersistentFlags().Changed("config") {
		return configFile
	}
	wd, err := os.Getwd()
	if err != nil {
		return configFile
	}
	if p, err := util.FindUpward(wd, configFile); err == nil {
		return p
	}
	return configFile
}

// loadSettings loads and validates the config file, prompting for a
// password when no credential is configured and stdin is a terminal.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadAndValidate(configPath())
	if err != nil {
		return nil, err
	}

	if s.SSH.Password == "" && s.SSH.PrivateKey == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		prompt := promptui.Prompt{
			Label: fmt.Sprintf("Password for %s@%s", s.SSH.Username, s.SSH.Host),
			Mask:  '*',
		}
		pw, err := prompt.Run()
		if err != nil {
			return nil, fmt.Errorf("password prompt cancelled: %v", err)
		}
		s.SSH.Password = pw
	}
	return s, nil
}

func runPipeline(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if err := executor.NewExecutor().Run(ctx, s); err != nil {
		return err
	}
	util.Default.Success("build finished, artifacts in %s", s.Compilation.LocalOutputDirectory())
	return nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline (push, pre-build, pull, post-build)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context())
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Mirror the local project root to the remote project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			return executor.NewExecutor().Push(cmd.Context(), s)
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Mirror the remote output directory to the local output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			return executor.NewExecutor().Pull(cmd.Context(), s)
		},
	}
}

func newExecCmd() *cobra.Command {
	var post bool

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run the pre-build commands (or post-build with --post) remotely",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			phase := types.PhasePre
			if post {
				phase = types.PhasePost
			}
			return executor.NewExecutor().ExecutePhase(cmd.Context(), s, phase)
		},
	}

	cmd.Flags().BoolVar(&post, "post", false, "Run the post-build commands")
	return cmd
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List configured commands by phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(configPath())
			if err != nil {
				return err
			}
			printCommands(s)
			return nil
		},
	}
}

func printCommands(s *config.Settings) {
	for _, phase := range []types.Phase{types.PhasePre, types.PhasePost} {
		cmds := executor.FilterPhase(s.Commands, phase)
		util.Default.Phase(phase.String(), fmt.Sprintf("(%d commands)", len(cmds)))
		for i, c := range cmds {
			if c.Description != "" {
				util.Default.Printf("  %d. %s  # %s\n", i+1, c.Command, c.Description)
			} else {
				util.Default.Printf("  %d. %s\n", i+1, c.Command)
			}
		}
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default remotebuild.yaml",
		Long: `Generate a default remotebuild.yaml in the current directory (or at --config).
Existing files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(configFile); err != nil {
				return err
			}
			util.Default.Success("created %s", configFile)
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Display resolved configuration for debugging",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runInfo()
		},
	}
}

func runInfo() {
	p := util.Default
	p.Println("🔍 Remote Build Information")
	p.Println("=" + strings.Repeat("=", 26))

	wd, err := os.Getwd()
	if err != nil {
		wd = "<unknown>"
	}
	p.Printf("📂 Current Working Directory: %s\n", wd)

	if root, err := util.GetProjectRoot(config.ConfigFileName); err == nil {
		p.Printf("📁 Project Root: %s\n", root)
	}

	path := configPath()
	abs, _ := filepath.Abs(path)
	if _, err := os.Stat(path); err == nil {
		p.Printf("⚙️  Config File: %s\n", abs)
	} else {
		p.Printf("⚙️  Config File: %s (not found, defaults apply)\n", abs)
	}

	s, err := config.Load(path)
	if err != nil {
		p.Printf("❌ Failed to load config: %v\n", err)
		return
	}

	auth := "password"
	switch {
	case s.SSH.PrivateKey != "" && s.SSH.Password != "":
		auth = "password, private key"
	case s.SSH.PrivateKey != "":
		auth = "private key"
	case s.SSH.Password == "":
		auth = "none (will prompt)"
	}
	p.Printf("🔌 Host: %s@%s (auth: %s)\n", s.SSH.Username, s.SSH.Address(), auth)
	if s.SSH.JumpHost != "" {
		p.Printf("🚇 Jump Host: %s\n", s.SSH.JumpHost)
	}
	if s.SSH.KnownHosts == "" {
		p.Println("⚠️  Host key verification: disabled")
	}
	p.Printf("📤 Push: %s -> %s\n", s.Compilation.LocalProjectRoot, s.Compilation.RemoteProjectRoot)
	p.Printf("📥 Pull: %s -> %s\n", s.Compilation.RemoteOutputDirectory(), s.Compilation.LocalOutputDirectory())
	if len(s.Compilation.Ignore) > 0 {
		p.Printf("🙈 Ignore: %s\n", strings.Join(s.Compilation.Ignore, ", "))
	}
	if s.Compilation.LogFile != "" {
		p.Printf("📝 Log File: %s\n", s.Compilation.LogFile)
	}
	p.Printf("📋 Commands: %d pre-build, %d post-build\n",
		len(executor.FilterPhase(s.Commands, types.PhasePre)),
		len(executor.FilterPhase(s.Commands, types.PhasePost)))

	if err := s.Validate(); err != nil {
		p.Printf("❌ %v\n", err)
		return
	}
	p.Println("✅ Configuration is valid")
}
