package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CSVProvider reads one file per symbol from a directory:
//
//	<dir>/<SYMBOL>.csv
//
// with rows
//
//	date,open,high,low,close,volume
//
// where date is YYYY-MM-DD or RFC3339. A header row ("date,...") is allowed
// and empty rows are skipped.
type CSVProvider struct {
	dir string
}

func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir}
}

func (p *CSVProvider) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(p.dir, symbol+".csv"))
	if err != nil {
		return nil, fmt.Errorf("csv provider: %w", err)
	}
	defer f.Close()

	bars, err := ReadBarsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("csv provider %s: %w", symbol, err)
	}
	return Window(bars, Day(start), Day(end)), nil
}

// ReadBarsCSV parses bar rows and returns them sorted by date.
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var bars []Bar
	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(row[0]), "date") {
				continue
			}
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return nil, err
		}
		if ok {
			bars = append(bars, b)
		}
	}
	return sortBars(bars), nil
}

// WriteBarsCSV writes bars with a header row.
func WriteBarsCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		err := cw.Write([]string{
			b.Date.Format(DateLayout),
			ff(b.Open), ff(b.High), ff(b.Low), ff(b.Close), ff(b.Volume),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseBarRow(row []string) (Bar, bool, error) {
	if len(row) < 6 {
		return Bar{}, false, nil
	}
	ds := strings.TrimSpace(row[0])
	if ds == "" {
		return Bar{}, false, nil
	}

	t, err := time.Parse(DateLayout, ds)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339, ds)
		if err2 != nil {
			return Bar{}, false, fmt.Errorf("bad date %q: %w", ds, err)
		}
		t = t2
	}

	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return Bar{}, false, fmt.Errorf("bad value %q: %w", row[i+1], err)
		}
		vals[i] = v
	}

	return Bar{
		Date:   Day(t),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, true, nil
}

func ff(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
