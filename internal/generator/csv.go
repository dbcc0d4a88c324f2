package generator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/spendguard/internal/domain"
)

// DateTimeLayout is the wall-clock format of the DateTime column.
const DateTimeLayout = "2006-01-02 15:04:05"

// Columns is the header written by WriteCSV.
var Columns = []string{
	"Amount",
	"DateTime",
	"DistanceFromLastTransaction",
	"TimeFromLastTransaction",
	"Speed",
	"Vendor",
	"TransactionCategory",
}

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

// WriteCSV writes records in the dataset layout. Distance is written with
// two decimals, gap as whole minutes and speed with three decimals.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}

	for i := range records {
		tx := &records[i].Transaction
		row := []string{
			decimal.NewFromFloat(tx.Amount).StringFixed(2),
			tx.Timestamp.Format(DateTimeLayout),
			decimal.NewFromFloat(tx.DistanceFromLast).StringFixed(2),
			strconv.FormatInt(int64(tx.TimeSinceLast), 10),
			decimal.NewFromFloat(tx.Speed()).StringFixed(3),
			tx.Vendor,
			tx.Category,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Row is one parsed data row.
type Row struct {
	Line        int
	Transaction domain.Transaction

	// Fields holds every column by header name, including extras such as labels.
	Fields map[string]string
}

// RowError describes a row that could not be parsed.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// ReadCSV parses a dataset file. DateTime values are interpreted in loc.
// Bad rows are reported and skipped; a bad header fails the whole read.
// The Speed column is not read back since speed is derived from distance and gap.
func ReadCSV(r io.Reader, loc *time.Location) ([]Row, []RowError, error) {
	if loc == nil {
		loc = time.Local
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{"Amount", "DateTime", "DistanceFromLastTransaction", "TimeFromLastTransaction", "TransactionCategory"} {
		if _, ok := index[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var rows []Row
	var rowErrs []RowError
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}

		fields := make(map[string]string, len(header))
		for name, i := range index {
			if i < len(rec) {
				fields[name] = strings.TrimSpace(rec[i])
			}
		}

		tx, err := parseRow(fields, loc)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		tx.ID = fmt.Sprintf("row-%d", line)
		rows = append(rows, Row{Line: line, Transaction: tx, Fields: fields})
	}

	return rows, rowErrs, nil
}

func parseRow(f map[string]string, loc *time.Location) (domain.Transaction, error) {
	var tx domain.Transaction

	amount, err := parseQuantity(f["Amount"])
	if err != nil {
		return tx, fmt.Errorf("%w: amount %q", domain.ErrInvalidTransaction, f["Amount"])
	}
	ts, err := time.ParseInLocation(DateTimeLayout, f["DateTime"], loc)
	if err != nil {
		return tx, fmt.Errorf("%w: %q", domain.ErrMalformedTimestamp, f["DateTime"])
	}
	distance, err := parseQuantity(f["DistanceFromLastTransaction"])
	if err != nil {
		return tx, fmt.Errorf("%w: distance %q", domain.ErrInvalidTransaction, f["DistanceFromLastTransaction"])
	}
	gap, err := parseQuantity(f["TimeFromLastTransaction"])
	if err != nil {
		return tx, fmt.Errorf("%w: gap %q", domain.ErrInvalidTransaction, f["TimeFromLastTransaction"])
	}
	category := f["TransactionCategory"]
	if category == "" {
		return tx, fmt.Errorf("%w: empty category", domain.ErrInvalidTransaction)
	}

	tx.Amount = amount
	tx.Timestamp = ts
	tx.DistanceFromLast = distance
	tx.TimeSinceLast = gap
	tx.Category = category
	tx.Vendor = f["Vendor"]
	return tx, nil
}

var errNotQuantity = errors.New("not a finite non-negative number")

// parseQuantity parses a finite, non-negative number. strconv accepts
// "Inf" and "NaN", so those are rejected here.
func parseQuantity(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotQuantity
	}
	return v, nil
}
