package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solventis/dataverse-access-core/internal/adapters/progress"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

func newBulkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Bulk create records against the fake organization",
	}
	cmd.AddCommand(newBulkCreateCmd())
	return cmd
}

func newBulkCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <entity> <file.json>",
		Short: "Create records from a JSON array of attribute maps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, path := args[0], args[1]

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			var attrSets []map[string]any
			if err := json.Unmarshal(raw, &attrSets); err != nil {
				return fmt.Errorf("parsing %s as a JSON array: %w", path, err)
			}

			records := make([]contracts.BatchRecord, len(attrSets))
			for i, attrs := range attrSets {
				records[i] = contracts.BatchRecord{Attributes: attrs}
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			reporter := progress.NewSlogReporter(a.Logger)
			succeeded, failures, err := a.Dispatcher.CreateMany(context.Background(), entity, records, reporter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d/%d records\n", succeeded, len(records))
			if len(failures) > 0 {
				return printJSON(failures)
			}
			return nil
		},
	}
}
