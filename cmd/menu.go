package cmd

import (
	"context"

	"remotebuild/internal/config"
	"remotebuild/internal/pipeline/executor"
	"remotebuild/internal/pipeline/types"
	"remotebuild/internal/util"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

const (
	menuRun      = "Run full pipeline"
	menuPush     = "Push project"
	menuPre      = "Run pre-build commands"
	menuPull     = "Pull output directory"
	menuPost     = "Run post-build commands"
	menuCommands = "List commands"
	menuInfo     = "Show configuration"
	menuExit     = "Exit"
)

func newMenuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu for build operations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			showMenu(cmd.Context())
		},
	}
}

func showMenu(ctx context.Context) {
	items := []string{menuRun, menuPush, menuPre, menuPull, menuPost, menuCommands, menuInfo, menuExit}

	for {
		prompt := promptui.Select{
			Label: "Select an operation",
			Items: items,
			Size:  len(items),
		}

		_, result, err := prompt.Run()
		if err != nil {
			util.Default.Printf("❌ Menu cancelled: %v\n", err)
			return
		}
		if result == menuExit {
			return
		}
		if err := runMenuItem(ctx, result); err != nil {
			util.Default.Printf("❌ %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func runMenuItem(ctx context.Context, item string) error {
	switch item {
	case menuCommands:
		s, err := config.Load(configPath())
		if err != nil {
			return err
		}
		printCommands(s)
		return nil
	case menuInfo:
		runInfo()
		return nil
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}
	ex := executor.NewExecutor()

	switch item {
	case menuRun:
		return ex.Run(ctx, s)
	case menuPush:
		return ex.Push(ctx, s)
	case menuPre:
		return ex.ExecutePhase(ctx, s, types.PhasePre)
	case menuPull:
		return ex.Pull(ctx, s)
	case menuPost:
		return ex.ExecutePhase(ctx, s, types.PhasePost)
	}
	return nil
}
