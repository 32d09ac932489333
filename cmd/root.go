// Package cmd assembles the insectid command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	classifycmd "github.com/insectid/insectid-go/cmd/classify"
	inventorycmd "github.com/insectid/insectid-go/cmd/inventory"
	servecmd "github.com/insectid/insectid-go/cmd/serve"
	"github.com/insectid/insectid-go/internal/conf"
	"github.com/insectid/insectid-go/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	ctx := &conf.Context{Viper: viper.New()}
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "insectid",
		Short:         "Hierarchical insect classification CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	rootCmd.PersistentFlags().String("manifest", "", "Path to the classifier manifest")
	rootCmd.PersistentFlags().Int("top-k", 0, "Number of candidates per inference")
	if err := ctx.Viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(err)
	}
	if err := ctx.Viper.BindPFlag("manifest", rootCmd.PersistentFlags().Lookup("manifest")); err != nil {
		panic(err)
	}
	if err := ctx.Viper.BindPFlag("top_k", rootCmd.PersistentFlags().Lookup("top-k")); err != nil {
		panic(err)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(ctx.Viper, configPath)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		ctx.Settings = settings
		logging.Init(settings.Debug)
		return nil
	}

	rootCmd.AddCommand(
		classifycmd.Command(ctx),
		inventorycmd.Command(ctx),
		servecmd.Command(ctx),
	)
	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	return RootCommand().Execute()
}
