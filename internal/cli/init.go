package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iambrandonn/coderloop/internal/config"
	"github.com/iambrandonn/coderloop/internal/fsutil"
	"github.com/iambrandonn/coderloop/internal/workspace"
)

func newInitCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default coderloop.json and create the workspace directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			return runInit(cmd, v.GetString("config"), force)
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, configPath string, force bool) error {
	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		configPath = filepath.Join(cwd, config.FileName)
	}

	if fsutil.FileExists(configPath) && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	root := cfg.WorkspaceRootFor(configPath)
	if err := workspace.Initialize(root); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}
