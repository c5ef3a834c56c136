package source

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/tabflow/tabflow/pkg/errors"
)

// jsonReader reads a JSON document: either an array of objects or a single
// object. The whole document is decoded up front; object sizes are not
// bounded, so producers of large volumes should prefer NDJSON or CSV.
type jsonReader struct {
	headers []string
	rows    []map[string]interface{}
	pos     int
}

func newJSONReader(src io.ReadCloser) (*jsonReader, error) {
	defer src.Close()

	dec := json.NewDecoder(src)
	dec.UseNumber()

	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, errors.CodeParseFailed, "failed to decode JSON document")
	}

	var rows []map[string]interface{}
	switch t := parsed.(type) {
	case []interface{}:
		for _, item := range t {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.New(errors.CodeParseFailed, "JSON array element is not an object")
			}
			rows = append(rows, obj)
		}
	case map[string]interface{}:
		rows = []map[string]interface{}{t}
	default:
		return nil, errors.New(errors.CodeParseFailed, "JSON document is neither an object nor an array of objects")
	}

	// Headers are the sorted union of keys, matching how key order is
	// undefined in JSON objects.
	seen := make(map[string]bool)
	for _, obj := range rows {
		for k := range obj {
			seen[k] = true
		}
	}
	headers := make([]string, 0, len(seen))
	for k := range seen {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	return &jsonReader{headers: headers, rows: rows}, nil
}

func (j *jsonReader) Headers() []string {
	return j.headers
}

func (j *jsonReader) Next() (Row, error) {
	if j.pos >= len(j.rows) {
		return nil, io.EOF
	}
	obj := j.rows[j.pos]
	j.pos++

	row := make(Row, len(obj))
	for k, v := range obj {
		row[k] = stringifyJSON(v)
	}
	return row, nil
}

func (j *jsonReader) Close() error {
	return nil
}
