package output

import (
	"strings"
	"time"

	"timer2ticket/model"
)

var mappingHeaders = []string{"PrimaryObjectID", "PrimaryObjectType", "Name", "Service", "ObjectID", "ObjectName", "ObjectType", "LastUpdated"}

// MappingsTable flattens mappings into one row per mapped service object.
func MappingsTable(mappings []model.Mapping) Table {
	table := Table{Headers: mappingHeaders}
	for _, mapping := range mappings {
		for _, object := range mapping.MappingsObjects {
			table.Rows = append(table.Rows, []string{
				mapping.PrimaryObjectID,
				mapping.PrimaryObjectType,
				mapping.Name,
				object.Service,
				object.ID,
				object.Name,
				object.Type,
				formatTime(object.LastUpdated),
			})
		}
	}
	return table
}

var jobLogHeaders = []string{"ID", "Type", "Origin", "Status", "ScheduledDate", "Started", "Completed", "Errors"}

func JobLogsTable(logs []model.JobLog) Table {
	table := Table{Headers: jobLogHeaders}
	for _, log := range logs {
		table.Rows = append(table.Rows, []string{
			log.ID,
			string(log.Type),
			string(log.Origin),
			string(log.Status),
			formatTime(log.ScheduledDate),
			formatOptionalTime(log.Started),
			formatOptionalTime(log.Completed),
			strings.Join(log.Errors, "; "),
		})
	}
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
