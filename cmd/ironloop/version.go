package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the ironloop version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("ironloop", version)
			return nil
		},
	}
}
