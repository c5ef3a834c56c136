package source

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/tabflow/tabflow/pkg/errors"
)

// xlsxReader streams rows from the first sheet of an XLSX workbook.
// The first row is the header. excelize needs random access, so the
// workbook is buffered in memory on open.
type xlsxReader struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	started bool
}

func newXLSXReader(src io.ReadCloser) (*xlsxReader, error) {
	defer src.Close()

	file, err := excelize.OpenReader(src)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeParseFailed, "failed to open xlsx workbook")
	}

	sheet := file.GetSheetName(0)
	if sheet == "" {
		list := file.GetSheetList()
		if len(list) == 0 {
			file.Close()
			return nil, errors.New(errors.CodeParseFailed, "xlsx workbook has no sheets")
		}
		sheet = list[0]
	}

	rows, err := file.Rows(sheet)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.CodeParseFailed, "failed to read xlsx rows")
	}

	return &xlsxReader{file: file, rows: rows}, nil
}

func (x *xlsxReader) Headers() []string {
	return x.headers
}

func (x *xlsxReader) readHeader() error {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return err
		}
		return io.EOF
	}
	cells, err := x.rows.Columns()
	if err != nil {
		return err
	}

	headers := make([]string, len(cells))
	for i, c := range cells {
		headers[i] = strings.TrimSpace(c)
	}
	x.headers = headers
	x.started = true
	return nil
}

func (x *xlsxReader) Next() (Row, error) {
	if !x.started {
		if err := x.readHeader(); err != nil {
			return nil, err
		}
	}

	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	cells, err := x.rows.Columns()
	if err != nil {
		return nil, err
	}

	row := make(Row, len(x.headers))
	for i, h := range x.headers {
		if i < len(cells) {
			row[h] = cells[i]
		}
	}
	return row, nil
}

func (x *xlsxReader) Close() error {
	if x.rows != nil {
		x.rows.Close()
	}
	return x.file.Close()
}
