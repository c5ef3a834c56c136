package source

import (
	"encoding/csv"
	"io"
	"strings"
)

// csvReader streams CSV rows. The first line is always the header and never
// becomes data.
type csvReader struct {
	src     io.ReadCloser
	reader  *csv.Reader
	headers []string
	started bool
}

func newCSVReader(src io.ReadCloser) *csvReader {
	r := csv.NewReader(src)
	// Ragged rows are data-quality noise, not a reason to abort the file.
	r.FieldsPerRecord = -1
	r.ReuseRecord = false
	return &csvReader{src: src, reader: r}
}

func (c *csvReader) Headers() []string {
	return c.headers
}

func (c *csvReader) readHeader() error {
	record, err := c.reader.Read()
	if err != nil {
		return err
	}

	headers := make([]string, len(record))
	for i, h := range record {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF") // UTF-8 BOM
		}
		headers[i] = strings.TrimSpace(h)
	}
	c.headers = headers
	c.started = true
	return nil
}

func (c *csvReader) Next() (Row, error) {
	if !c.started {
		if err := c.readHeader(); err != nil {
			return nil, err
		}
	}

	record, err := c.reader.Read()
	if err != nil {
		return nil, err
	}

	row := make(Row, len(c.headers))
	for i, h := range c.headers {
		if i < len(record) {
			row[h] = record[i]
		}
	}
	return row, nil
}

func (c *csvReader) Close() error {
	return c.src.Close()
}
