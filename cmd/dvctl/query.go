package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

func newQueryCmd() *cobra.Command {
	var confirm, estimate, noLimit bool

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a T-SQL statement through the SQL frontend and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.SqlService.Execute(context.Background(), args[0], contracts.DmlOptions{
				Confirm:  confirm,
				Estimate: estimate,
				NoLimit:  noLimit,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm an unfiltered DELETE/UPDATE")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "estimate affected row count against the DML guard's row cap")
	cmd.Flags().BoolVar(&noLimit, "no-limit", false, "bypass the row cap once estimated")
	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
