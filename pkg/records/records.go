// Package records reads and writes the integer key,value CSV files consumed
// by the bpindex batch commands.
package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrMalformedRecord = errors.New("malformed record")

// Record is one key,value row.
type Record struct {
	Key   int64
	Value int64
}

// Reader streams records from CSV input. Blank lines are skipped and
// fields may be padded with spaces.
type Reader struct {
	r *csv.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &Reader{r: cr}
}

func (r *Reader) next(minFields int) ([]string, int, error) {
	row, err := r.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	line, _ := r.r.FieldPos(0)
	if len(row) < minFields {
		return nil, line, fmt.Errorf("%w: line %d: want %d fields, got %d", ErrMalformedRecord, line, minFields, len(row))
	}
	return row, line, nil
}

func parseField(field string, line int, name string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %s %q is not an integer", ErrMalformedRecord, line, name, field)
	}
	return v, nil
}

// Next returns the next key,value record, or io.EOF at the end of input.
func (r *Reader) Next() (Record, error) {
	row, line, err := r.next(2)
	if err != nil {
		return Record{}, err
	}
	key, err := parseField(row[0], line, "key")
	if err != nil {
		return Record{}, err
	}
	value, err := parseField(row[1], line, "value")
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: value}, nil
}

// NextKey returns the first column of the next row, or io.EOF at the end of
// input. Any further columns are ignored.
func (r *Reader) NextKey() (int64, error) {
	row, line, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return parseField(row[0], line, "key")
}

// ReadAll reads every record from r.
func ReadAll(r io.Reader) ([]Record, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// ReadKeys reads the first column of every row from r.
func ReadKeys(r io.Reader) ([]int64, error) {
	rd := NewReader(r)
	var out []int64
	for {
		key, err := rd.NextKey()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
}

// Write emits recs as key,value lines.
func Write(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	row := make([]string, 2)
	for _, rec := range recs {
		row[0] = strconv.FormatInt(rec.Key, 10)
		row[1] = strconv.FormatInt(rec.Value, 10)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteKeys emits one key per line.
func WriteKeys(w io.Writer, keys []int64) error {
	cw := csv.NewWriter(w)
	row := make([]string, 1)
	for _, k := range keys {
		row[0] = strconv.FormatInt(k, 10)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
