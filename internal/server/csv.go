package server

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"mailbot/internal/recipients"
)

// parseRecipientCSV reads a CSV with a header row. The email column is
// required; name and real_name are optional and matched by header name, so
// column order doesn't matter. Rows without an email are skipped here the
// same way the store skips them.
func parseRecipientCSV(r io.Reader) ([]recipients.Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.New("empty csv")
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	emailCol, ok := idx["email"]
	if !ok {
		return nil, errors.New("missing email column")
	}
	nameCol, hasName := idx["name"]
	realCol, hasReal := idx["real_name"]

	var out []recipients.Recipient
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		field := func(col int, ok bool) string {
			if !ok || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}
		rec := recipients.Recipient{
			Email:    field(emailCol, true),
			Name:     field(nameCol, hasName),
			RealName: field(realCol, hasReal),
		}
		if rec.Email == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
