package source

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// jsonlReader streams newline-delimited JSON objects. There is no fixed
// header: the column set is the union of keys seen, growing as rows arrive.
type jsonlReader struct {
	src     io.ReadCloser
	scanner *bufio.Scanner
	headers []string
	seen    map[string]bool
}

func newJSONLReader(src io.ReadCloser) *jsonlReader {
	scanner := bufio.NewScanner(src)
	// Individual NDJSON lines can be far larger than bufio's default.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &jsonlReader{
		src:     src,
		scanner: scanner,
		seen:    make(map[string]bool),
	}
}

func (j *jsonlReader) Headers() []string {
	return j.headers
}

func (j *jsonlReader) Next() (Row, error) {
	for j.scanner.Scan() {
		line := strings.TrimSpace(j.scanner.Text())
		if line == "" {
			continue
		}

		obj, err := decodeObject(line)
		if err != nil {
			return nil, err
		}

		row := make(Row, len(obj))
		for k, v := range obj {
			if !j.seen[k] {
				j.seen[k] = true
				j.headers = append(j.headers, k)
			}
			row[k] = stringifyJSON(v)
		}
		return row, nil
	}

	if err := j.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (j *jsonlReader) Close() error {
	return j.src.Close()
}

// decodeObject parses one JSON object, keeping numbers as their raw text so
// inference sees exactly what the producer wrote.
func decodeObject(line string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// stringifyJSON renders a decoded JSON value as the raw string the rest of
// the pipeline works with. Nested structures become compact JSON text.
func stringifyJSON(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
