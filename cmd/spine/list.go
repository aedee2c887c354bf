package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/spine/internal/model"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List a tenant's activities",
	GroupID: "activities",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		page, err := spineClient.ListActivities(context.Background(), tenant, filter)
		if err != nil {
			return fmt.Errorf("listing activities: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), page)
		}
		printPage(cmd.OutOrStdout(), page)
		return nil
	},
}

func filterFromFlags(cmd *cobra.Command) (model.ActivityFilter, error) {
	f := cmd.Flags()
	types, _ := f.GetStringSlice("type")
	sources, _ := f.GetStringSlice("source")
	statuses, _ := f.GetStringSlice("status")
	priorities, _ := f.GetStringSlice("priority")
	tags, _ := f.GetStringSlice("tag")
	entityID, _ := f.GetString("entity-id")
	entityType, _ := f.GetString("entity-type")
	user, _ := f.GetString("user")
	search, _ := f.GetString("search")
	correlation, _ := f.GetString("correlation-id")
	sortBy, _ := f.GetString("sort")
	order, _ := f.GetString("order")
	page, _ := f.GetInt("page")
	pageSize, _ := f.GetInt("page-size")
	unread, _ := f.GetBool("unread")

	filter := model.ActivityFilter{
		Types:         enumList[model.ActivityType](types),
		Sources:       enumList[model.Source](sources),
		Statuses:      enumList[model.Status](statuses),
		Priorities:    enumList[model.Priority](priorities),
		Tags:          tags,
		EntityID:      entityID,
		EntityType:    entityType,
		UserID:        user,
		Search:        search,
		CorrelationID: correlation,
		SortBy:        sortBy,
		SortOrder:     model.SortOrder(order),
		Page:          page,
		PageSize:      pageSize,
	}
	if unread {
		read := false
		filter.Read = &read
	}
	var err error
	if filter.Start, err = timeFlag(cmd, "since"); err != nil {
		return filter, err
	}
	if filter.End, err = timeFlag(cmd, "until"); err != nil {
		return filter, err
	}
	return filter, nil
}

func enumList[T ~string](vals []string) []T {
	if len(vals) == 0 {
		return nil
	}
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = T(v)
	}
	return out
}

// timeFlag reads an optional time flag given either as RFC 3339 or as a
// duration back from now ("24h").
func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil, nil
	}
	return parseTimeFlag(name, v)
}

func parseTimeFlag(name, v string) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		t := time.Now().Add(-d)
		return &t, nil
	}
	return nil, fmt.Errorf("--%s: expected RFC 3339 time or duration, got %q", name, v)
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().String("since", "", "window start (RFC 3339 or duration ago, e.g. 24h)")
	cmd.Flags().String("until", "", "window end (RFC 3339 or duration ago)")
}

func addFilterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("type", nil, "filter by type (repeatable)")
	f.StringSlice("source", nil, "filter by source (repeatable)")
	f.StringSlice("status", nil, "filter by status (repeatable)")
	f.StringSlice("priority", nil, "filter by priority (repeatable)")
	f.StringSlice("tag", nil, "require tag (repeatable)")
	f.String("entity-id", "", "filter by related entity id")
	f.String("entity-type", "", "filter by related entity type")
	f.String("user", "", "filter by acting user id")
	f.String("search", "", "search title and description")
	f.String("correlation-id", "", "filter by correlation id")
	f.Bool("unread", false, "only unread activities")
	f.String("sort", "", "sort field (timestamp, created_at, priority, status, type, source or title)")
	f.String("order", "", "sort order (asc or desc)")
	f.Int("page", 1, "page number")
	f.Int("page-size", model.DefaultPageSize, "activities per page")
	addWindowFlags(cmd)
}

func init() {
	addFilterFlags(listCmd)
}
