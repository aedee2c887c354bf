package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/spine/internal/model"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Short:   "Record a canonical activity",
	GroupID: "activities",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := requireTenant()
		if err != nil {
			return err
		}
		d, err := draftFromFlags(cmd, tenant)
		if err != nil {
			return err
		}
		a, created, err := spineClient.CreateActivity(context.Background(), d)
		if err != nil {
			return fmt.Errorf("creating activity: %w", err)
		}
		return reportWrite(cmd.OutOrStdout(), a, created)
	},
}

var ingestCmd = &cobra.Command{
	Use:     "ingest <source> [<file>]",
	Short:   "Normalize and record a raw source payload (reads stdin without a file)",
	GroupID: "activities",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 2 && args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		payload, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}
		// The tenant may also come from the payload itself.
		a, created, err := spineClient.Ingest(context.Background(), args[0], tenantID, payload)
		if err != nil {
			return fmt.Errorf("ingesting %s payload: %w", args[0], err)
		}
		return reportWrite(cmd.OutOrStdout(), a, created)
	},
}

func reportWrite(w io.Writer, a *model.Activity, created bool) error {
	if jsonOutput {
		return printJSON(w, map[string]any{"activity": a, "created": created})
	}
	if created {
		fmt.Fprintf(w, "created %s\n", a.ID)
	} else {
		fmt.Fprintf(w, "duplicate of %s\n", a.ID)
	}
	return nil
}

func draftFromFlags(cmd *cobra.Command, tenant string) (*model.Draft, error) {
	f := cmd.Flags()
	typ, _ := f.GetString("type")
	source, _ := f.GetString("source")
	status, _ := f.GetString("status")
	priority, _ := f.GetString("priority")
	system, _ := f.GetString("source-system")
	objectID, _ := f.GetString("object-id")
	objectType, _ := f.GetString("object-type")
	title, _ := f.GetString("title")
	description, _ := f.GetString("description")
	entity, _ := f.GetString("entity")
	user, _ := f.GetString("user")
	userName, _ := f.GetString("user-name")
	at, _ := f.GetString("at")
	tags, _ := f.GetStringSlice("tag")
	correlation, _ := f.GetString("correlation-id")
	meta, _ := f.GetString("metadata")

	d := &model.Draft{
		TenantID:         tenant,
		Type:             model.ActivityType(typ),
		Source:           model.Source(source),
		Status:           model.Status(status),
		Priority:         model.Priority(priority),
		SourceSystem:     system,
		SourceObjectID:   objectID,
		SourceObjectType: objectType,
		Title:            title,
		Description:      description,
		UserID:           user,
		UserName:         userName,
		Tags:             tags,
		CorrelationID:    correlation,
	}
	if entity != "" {
		etype, id, ok := strings.Cut(entity, "/")
		if !ok {
			return nil, fmt.Errorf("--entity must be <type>/<id>")
		}
		d.EntityType, d.EntityID = etype, id
	}
	if at != "" {
		t, err := parseTimeFlag("at", at)
		if err != nil {
			return nil, err
		}
		d.Timestamp = *t
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, fmt.Errorf("--metadata must be a JSON object: %w", err)
		}
	}
	return d, nil
}

func addDraftFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("type", "", "activity type (required)")
	f.String("source", "", "activity source (required)")
	f.String("title", "", "activity title (required)")
	f.String("status", "", "status (default completed)")
	f.String("priority", "", "priority (default medium)")
	f.String("source-system", "", "originating system (defaults to the source)")
	f.String("object-id", "", "id of the object in the originating system")
	f.String("object-type", "", "type of the object in the originating system")
	f.String("description", "", "longer description")
	f.String("entity", "", "related entity as <type>/<id>")
	f.String("user", "", "acting user id")
	f.String("user-name", "", "acting user display name")
	f.String("at", "", "when it happened (RFC 3339, default now)")
	f.StringSlice("tag", nil, "tag (repeatable)")
	f.String("correlation-id", "", "correlation id linking related activities")
	f.String("metadata", "", "metadata as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("title")
}

func init() {
	addDraftFlags(createCmd)
}
