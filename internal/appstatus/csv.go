package appstatus

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/mina-uptime/coordinator/internal/resultdb"
)

// parseContactListCSV reads rows of the form
// block_producer_key,application_name,active from r. The header row, if
// present (first field not parseable as part of a key/name pair is
// skipped by requiring the "active" column to parse as a bool), is
// tolerated by skipping any row whose third field doesn't parse.
func parseContactListCSV(r io.Reader) ([]resultdb.ApplicationStatusRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse contact list csv: %w", err)
	}

	rows := make([]resultdb.ApplicationStatusRow, 0, len(records))
	for _, rec := range records {
		active, err := strconv.ParseBool(rec[2])
		if err != nil {
			continue // header row or malformed line
		}
		rows = append(rows, resultdb.ApplicationStatusRow{
			BlockProducerKey: rec[0],
			ApplicationName:  rec[1],
			Active:           active,
		})
	}
	return rows, nil
}
