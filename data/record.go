package data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// RecordKeys names the required fields of every raw record.
type RecordKeys struct {
	Text  string // utterance text
	Group string // conversation-grouping key
	Role  string // speaker identity
	Sort  string // within-conversation ordering key
}

// MalformedRecordError reports a raw record missing one of the required
// keys (or carrying an unusable value for it). It indicates a data-contract
// violation and is never recovered from.
type MalformedRecordError struct {
	Path  string // source file, may be empty for in-memory records
	Index int    // zero-based record position in the source
	Key   string // the missing or invalid key
}

func (e *MalformedRecordError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("record %d: missing or invalid key %q", e.Index, e.Key)
	}
	return fmt.Sprintf("%s: record %d: missing or invalid key %q", e.Path, e.Index, e.Key)
}

// Record is one raw utterance row after key extraction. Seq preserves the
// original position in the source, used to break sort ties.
type Record struct {
	Text  string
	Group string
	Role  string
	Sort  any // raw JSON value of the sort key: number, string, ...
	Seq   int
}

// DecodeRecords reads raw records from r. Both a top-level JSON array of
// objects and newline-delimited JSON objects are accepted. Every object
// must carry all four keys; the first violation aborts the decode with a
// *MalformedRecordError.
func DecodeRecords(r io.Reader, path string, keys RecordKeys) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	var rows []map[string]any
	if trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		for {
			var row map[string]any
			if err := dec.Decode(&row); err == io.EOF {
				break
			} else if err != nil {
				return nil, errors.Wrapf(err, "decode %s", path)
			}
			rows = append(rows, row)
		}
	}

	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := extractRecord(row, path, i, keys)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeRecordFile opens and decodes one JSON dataset file.
func DecodeRecordFile(path string, keys RecordKeys) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return DecodeRecords(f, path, keys)
}

func extractRecord(row map[string]any, path string, index int, keys RecordKeys) (Record, error) {
	text, ok := stringValue(row[keys.Text])
	if !ok {
		return Record{}, &MalformedRecordError{Path: path, Index: index, Key: keys.Text}
	}
	group, ok := stringValue(row[keys.Group])
	if !ok {
		return Record{}, &MalformedRecordError{Path: path, Index: index, Key: keys.Group}
	}
	role, ok := stringValue(row[keys.Role])
	if !ok {
		return Record{}, &MalformedRecordError{Path: path, Index: index, Key: keys.Role}
	}
	sortVal, ok := row[keys.Sort]
	if !ok || sortVal == nil {
		return Record{}, &MalformedRecordError{Path: path, Index: index, Key: keys.Sort}
	}
	return Record{Text: text, Group: group, Role: role, Sort: sortVal, Seq: index}, nil
}

// stringValue renders a JSON scalar as a string. Group and role keys are
// frequently numeric ids in raw exports.
func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}
