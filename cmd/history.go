package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the operation log while the server is stopped",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list [category...]",
		Short: "List operations that started and never finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := categoriesOf(args)
			if err != nil {
				return err
			}
			return withHistory(ctx, func(svc *history.Service) error {
				return listIncomplete(cmd.Context(), cmd.OutOrStdout(), svc, cats)
			})
		},
	}
}

func withHistory(ctx *commandContext, fn func(*history.Service) error) error {
	svc, err := history.Open(ctx.cfg.History.Dir, ctx.log)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	return fn(svc)
}

func categoriesOf(args []string) ([]data.Category, error) {
	if len(args) == 0 {
		return data.Categories(), nil
	}
	out := make([]data.Category, 0, len(args))
	for _, a := range args {
		c, err := data.ParseCategory(a)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func listIncomplete(ctx context.Context, out io.Writer, svc *history.Service, cats []data.Category) error {
	var rows [][]string
	for _, c := range cats {
		ids, err := svc.Entries(ctx, c)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rows = append(rows, []string{string(c), id.String()})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no incomplete operations")
		return nil
	}
	fmt.Fprintln(out, renderTable([]string{"Category", "ID"}, rows))
	return nil
}
