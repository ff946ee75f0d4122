package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "kind", "changed_at", "actor_user_id", "role_id", "menu_item_id",
	"permission_id", "previous_value", "new_value", "source_ip", "user_agent",
}

// WriteCSV encodes entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.Kind,
			e.ChangedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.ActorUserID, 10),
			strconv.FormatInt(e.RoleID, 10),
			optionalID(e.MenuItemID),
			optionalID(e.PermissionID),
			optionalBool(e.PreviousValue),
			strconv.FormatBool(e.NewValue),
			e.SourceIP,
			e.UserAgent,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func optionalBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
