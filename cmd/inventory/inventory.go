// Package inventory implements the inventory subcommand: load the manifest
// and print the per-descriptor registry load report.
package inventory

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insectid/insectid-go/internal/classifier"
	"github.com/insectid/insectid-go/internal/conf"
	"github.com/insectid/insectid-go/internal/engine"
	"github.com/insectid/insectid-go/internal/errors"
	"github.com/insectid/insectid-go/internal/model"
)

// Command creates the inventory command.
func Command(ctx *conf.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Load the classifier manifest and report per-classifier outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory := &model.TFLiteFactory{Policy: ctx.Settings.BackendPolicy()}
			eng := engine.New(ctx.Settings, factory, nil)

			reg, err := eng.Registry()
			if err != nil {
				if errors.Is(err, classifier.ErrRegistryEmpty) {
					fmt.Println("no classifier loaded")
				}
				return err
			}

			report := reg.Report()
			fmt.Printf("loaded %d classifier(s), %d failed\n", report.Loaded(), report.Failed())
			for _, o := range report.Outcomes {
				status := "ok"
				if !o.OK {
					status = fmt.Sprintf("failed: %v", o.Err)
				}
				fmt.Printf("  %-8s %-40s %s\n", o.Level, o.Key, status)
			}
			return nil
		},
	}
}
