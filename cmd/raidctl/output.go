package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/sjkd23/console-sub003/internal/lock"
	"github.com/sjkd23/console-sub003/internal/service/runs"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRuns(w io.Writer, format string, views []runs.RunView) error {
	if format == outputJSON {
		return writeJSON(w, views)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDUNGEON\tSTATUS\tORGANIZER\tPARTY\tLOCATION\tKEYS\tCREATED")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			v.ID,
			v.DungeonKey,
			v.Status,
			organizerCell(v),
			dash(v.Party),
			dash(v.Location),
			v.KeyPops,
			v.CreatedAt.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

func writeRun(w io.Writer, format string, v runs.RunView) error {
	if format == outputJSON {
		return writeJSON(w, v)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", strconv.FormatInt(v.ID, 10)},
		{"Guild", v.GuildID},
		{"Dungeon", v.DungeonLabel + " (" + v.DungeonKey + ")"},
		{"Status", v.StatusLabel},
		{"Organizer", organizerCell(v)},
		{"Party", dash(v.Party)},
		{"Location", dash(v.Location)},
		{"Key pops", strconv.Itoa(v.KeyPops)},
		{"Created", v.CreatedAt.Format(time.RFC3339)},
		{"Started", timeCell(v.StartedAt)},
		{"Ended", timeCell(v.EndedAt)},
		{"Role", dash(v.RoleID)},
		{"Screenshot", dash(v.ScreenshotURL)},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func writeLocks(w io.Writer, format string, entries []lock.Entry) error {
	if format == outputJSON {
		if entries == nil {
			entries = []lock.Entry{}
		}
		return writeJSON(w, entries)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tHOLDER\tACTOR\tACQUIRED\tEXPIRES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Key,
			dash(e.ActorLabel),
			e.ActorID,
			e.AcquiredAt.Format(time.RFC3339),
			e.ExpiresAt.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

func organizerCell(v runs.RunView) string {
	if v.OrganizerLabel == "" {
		return v.OrganizerID
	}
	return v.OrganizerLabel + " (" + v.OrganizerID + ")"
}

func timeCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
