package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/spine/internal/client"
)

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show one activity",
	GroupID: "activities",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		a, err := spineClient.GetActivity(context.Background(), tenant, args[0])
		if client.IsNotFound(err) {
			return fmt.Errorf("activity %s not found", args[0])
		}
		if err != nil {
			return fmt.Errorf("getting activity: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), a)
		}
		printActivity(cmd.OutOrStdout(), a)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:     "read [<id>...]",
	Short:   "Mark activities as read (--all for the whole tenant)",
	GroupID: "activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		out := cmd.OutOrStdout()
		ctx := context.Background()

		switch {
		case all && len(args) > 0:
			return fmt.Errorf("pass ids or --all, not both")
		case all:
			n, err := spineClient.MarkAllAsRead(ctx, tenant)
			if err != nil {
				return fmt.Errorf("marking all read: %w", err)
			}
			if jsonOutput {
				return printJSON(out, map[string]int{"count": n})
			}
			fmt.Fprintf(out, "marked %d activities read\n", n)
			return nil
		case len(args) == 0:
			return fmt.Errorf("requires at least one id or --all")
		}

		for _, id := range args {
			a, err := spineClient.MarkAsRead(ctx, tenant, id)
			if client.IsNotFound(err) {
				return fmt.Errorf("activity %s not found", id)
			}
			if err != nil {
				return fmt.Errorf("marking %s read: %w", id, err)
			}
			if jsonOutput {
				if err := printJSON(out, a); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "read %s\n", a.ID)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Summarize a tenant's activities",
	GroupID: "activities",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		start, err := timeFlag(cmd, "since")
		if err != nil {
			return err
		}
		end, err := timeFlag(cmd, "until")
		if err != nil {
			return err
		}
		st, err := spineClient.GetStats(context.Background(), tenant, start, end)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printStats(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	readCmd.Flags().Bool("all", false, "mark every unread activity of the tenant")
	addWindowFlags(statsCmd)
}
