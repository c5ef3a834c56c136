package source

import "io"

// Stream buffers the first sampleLimit rows for schema inference, then
// replays them ahead of the remaining rows so the loader sees the whole
// file exactly once. Object streams are not seekable, so sampled rows are
// the only ones ever held in memory.
type Stream struct {
	rdr    Reader
	sample []Row
	pos    int
	done   bool
}

// NewStream reads up to sampleLimit rows eagerly from rdr.
func NewStream(rdr Reader, sampleLimit int) (*Stream, error) {
	s := &Stream{rdr: rdr}

	for len(s.sample) < sampleLimit {
		row, err := rdr.Next()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		s.sample = append(s.sample, row)
	}
	return s, nil
}

// Sample returns the buffered sample rows. Callers must not mutate them.
func (s *Stream) Sample() []Row {
	return s.sample
}

// FirstRow returns the first data row, or nil for an empty object.
func (s *Stream) FirstRow() Row {
	if len(s.sample) == 0 {
		return nil
	}
	return s.sample[0]
}

// Headers returns the column names known so far. For NDJSON this grows as
// rows past the sample are read.
func (s *Stream) Headers() []string {
	return s.rdr.Headers()
}

// Next replays the sample, then continues with the remaining rows.
func (s *Stream) Next() (Row, error) {
	if s.pos < len(s.sample) {
		row := s.sample[s.pos]
		s.pos++
		return row, nil
	}
	if s.done {
		return nil, io.EOF
	}

	row, err := s.rdr.Next()
	if err == io.EOF {
		s.done = true
	}
	return row, err
}

// Close releases the underlying reader.
func (s *Stream) Close() error {
	return s.rdr.Close()
}
