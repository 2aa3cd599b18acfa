package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom-go/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting Codeloom configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	fmt.Println("Codeloom System Paths:")
	fmt.Println()
	fmt.Printf("  Config:   %s\n", paths.Config)
	fmt.Printf("  Data:     %s\n", paths.Data)
	fmt.Printf("  Cache:    %s\n", paths.Cache)
	fmt.Printf("  State:    %s\n", paths.State)
	fmt.Println()
	fmt.Printf("  Global config file:   %s\n", config.GlobalConfigPath())
	fmt.Printf("  Project config file:  %s\n", config.ProjectConfigPath(workDir))

	return nil
}
