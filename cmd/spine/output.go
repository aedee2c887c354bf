package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/spine/internal/model"
	"github.com/alfredjeanlab/spine/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printActivity(w io.Writer, a *model.Activity) {
	fmt.Fprintf(w, "ID:          %s\n", a.ID)
	fmt.Fprintf(w, "Tenant:      %s\n", a.TenantID)
	fmt.Fprintf(w, "Title:       %s\n", a.Title)
	fmt.Fprintf(w, "Type:        %s\n", a.Type)
	fmt.Fprintf(w, "Source:      %s (%s)\n", a.Source, a.SourceSystem)
	fmt.Fprintf(w, "Status:      %s\n", a.Status)
	fmt.Fprintf(w, "Priority:    %s\n", ui.RenderPriority(a.Priority))
	fmt.Fprintf(w, "Object:      %s\n", objectRef(a))
	if a.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", a.Description)
	}
	if a.EntityID != "" {
		fmt.Fprintf(w, "Entity:      %s/%s\n", a.EntityType, a.EntityID)
	}
	if a.UserID != "" || a.UserName != "" {
		fmt.Fprintf(w, "User:        %s\n", strings.TrimSpace(a.UserName+" "+bracket(a.UserID)))
	}
	if len(a.Tags) > 0 {
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(a.Tags, ", "))
	}
	if a.CorrelationID != "" {
		fmt.Fprintf(w, "Correlation: %s\n", a.CorrelationID)
	}
	fmt.Fprintf(w, "Occurred At: %s\n", a.Timestamp.Local().Format(timeLayout))
	fmt.Fprintf(w, "Created At:  %s\n", a.CreatedAt.Local().Format(timeLayout))
	if a.Read && a.ReadAt != nil {
		fmt.Fprintf(w, "Read At:     %s\n", a.ReadAt.Local().Format(timeLayout))
	} else {
		fmt.Fprintf(w, "Read:        %t\n", a.Read)
	}
	if len(a.Metadata) > 0 {
		fmt.Fprintf(w, "Metadata:    %s\n", a.Metadata)
	}
}

func objectRef(a *model.Activity) string {
	if a.SourceObjectType == "" {
		return a.SourceObjectID
	}
	return a.SourceObjectType + "/" + a.SourceObjectID
}

func bracket(s string) string {
	if s == "" {
		return ""
	}
	return "<" + s + ">"
}

func printPage(w io.Writer, p *model.Page) {
	titleWidth := max(ui.Width(120)-70, 20)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, " \tID\tWHEN\tTYPE\tSOURCE\tPRIORITY\tTITLE")
	for _, a := range p.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ui.UnreadMarker(a.Read),
			a.ID,
			a.Timestamp.Local().Format(timeLayout),
			a.Type,
			a.Source,
			ui.RenderPriority(a.Priority),
			ui.Truncate(a.Title, titleWidth),
		)
	}
	tw.Flush()
	fmt.Fprintln(w, ui.RenderMuted(fmt.Sprintf("\npage %d of %d (%d activities)", p.Page, max(p.TotalPages, 1), p.Total)))
}

func printStats(w io.Writer, st *model.Stats) {
	fmt.Fprintf(w, "Total:  %d\n", st.Total)
	fmt.Fprintf(w, "Unread: %d\n", st.Unread)
	printCounts(w, "By type", st.ByType)
	printCounts(w, "By source", st.BySource)
	printCounts(w, "By priority", st.ByPriority)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fmt.Fprintf(w, "\n%s:\n", ui.RenderAccent(title))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%d\n", k, counts[k])
	}
	tw.Flush()
}

func printDelta(w io.Writer, d *model.Delta) {
	when := d.Timestamp.Local().Format(timeLayout)
	if d.ReadAll {
		fmt.Fprintf(w, "%s %s all read (%d)\n", ui.RenderMuted(when), ui.RenderAction(d.Action), d.Count)
		return
	}
	if d.Activity == nil {
		fmt.Fprintf(w, "%s %s %s\n", ui.RenderMuted(when), ui.RenderAction(d.Action), d.ConnectionID)
		return
	}
	a := d.Activity
	fmt.Fprintf(w, "%s %s %s %s [%s] %s\n",
		ui.RenderMuted(when),
		ui.RenderAction(d.Action),
		a.ID,
		a.Type,
		ui.RenderPriority(a.Priority),
		a.Title,
	)
}
