package main

import (
	"github.com/spf13/cobra"
)

func newPoolStatusCmd() *cobra.Command {
	pool := &cobra.Command{
		Use:   "pool",
		Short: "Connection pool introspection",
	}
	pool.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print current connection pool utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(a.Pool.Stats())
		},
	})
	return pool
}
