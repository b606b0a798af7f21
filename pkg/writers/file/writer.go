package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"stacktrends/pkg/types"
)

const (
	CSV  = "csv"
	JSON = "json"
)

// Writer stores every table as one file per format in a directory.
type Writer struct {
	dir     string
	formats []string
}

func New(dir string, formats []string) *Writer {
	return &Writer{dir: dir, formats: formats}
}

func (w *Writer) Name() string { return "file" }

func (w *Writer) Write(ctx context.Context, table types.Table) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	for _, format := range w.formats {
		if err := ctx.Err(); err != nil {
			return err
		}
		var encode func(io.Writer, types.Table) error
		switch format {
		case CSV:
			encode = encodeCSV
		case JSON:
			encode = encodeJSON
		default:
			return errors.Errorf("unknown output format %q", format)
		}
		path := filepath.Join(w.dir, table.Name+"."+format)
		if err := writeFile(path, table, encode); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
	}
	return nil
}

// writeFile writes to a temporary file next to path and renames it, so
// readers never see a partial file.
func writeFile(path string, table types.Table, encode func(io.Writer, types.Table) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	buffered := bufio.NewWriter(tmp)
	if err := encode(buffered, table); err != nil {
		tmp.Close()
		return err
	}
	if err := buffered.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encodeCSV(w io.Writer, table types.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.ColumnNames()); err != nil {
		return err
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatValue(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// encodeJSON writes the table as an array of objects keyed by column name.
func encodeJSON(w io.Writer, table types.Table) error {
	records := make([]map[string]interface{}, len(table.Rows))
	for i := range table.Rows {
		records[i] = table.Record(i)
	}
	return json.NewEncoder(w).Encode(records)
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case []byte:
		return string(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
