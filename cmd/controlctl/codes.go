package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/festivetech/carolsync/internal/control"
)

func newCodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "manage saved sync codes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls",
			Short: "list saved codes",
			RunE: func(cmd *cobra.Command, args []string) error {
				list, err := control.DefaultCodeList()
				if err != nil {
					return err
				}
				codes, err := list.Load()
				if err != nil {
					return err
				}
				if len(codes) == 0 {
					fmt.Println("no saved codes")
					return nil
				}
				for _, code := range codes {
					fmt.Println(code)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <code>",
			Short: "save a code",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				list, err := control.DefaultCodeList()
				if err != nil {
					return err
				}
				return list.Add(args[0])
			},
		},
		&cobra.Command{
			Use:   "rm <code>",
			Short: "remove a saved code",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				list, err := control.DefaultCodeList()
				if err != nil {
					return err
				}
				return list.Remove(args[0])
			},
		},
	)
	return cmd
}
