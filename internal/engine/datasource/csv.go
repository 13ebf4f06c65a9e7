package datasource

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
)

// Accepted timestamp layouts for the time column, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads a price series from a CSV file with a header row containing
// at least time, open, high, low, close and volume columns, in any order.
// Bars must already be in ascending time order.
func LoadCSV(path, symbol string) (types.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Series{}, errors.Wrapf(errors.ErrCodeDataLoadFailed, err, "cannot open %s", path)
	}
	defer f.Close()

	return ReadCSV(f, symbol)
}

// ReadCSV parses a price series from CSV content.
func ReadCSV(r io.Reader, symbol string) (types.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return types.Series{}, errors.Wrap(errors.ErrCodeDataLoadFailed, "cannot read CSV header", err)
	}

	columns, err := mapColumns(header)
	if err != nil {
		return types.Series{}, err
	}

	var bars []types.PriceBar

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return types.Series{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "line %d", line)
		}

		bar, err := parseBar(record, columns)
		if err != nil {
			return types.Series{}, errors.Wrapf(errors.ErrCodeMalformedBar, err, "line %d", line)
		}

		bars = append(bars, bar)
	}

	return types.NewSeries(symbol, bars)
}

type columnIndex struct {
	time, open, high, low, close, volume int
}

func mapColumns(header []string) (columnIndex, error) {
	idx := columnIndex{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}

	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "time", "timestamp", "date", "datetime":
			idx.time = i
		case "open":
			idx.open = i
		case "high":
			idx.high = i
		case "low":
			idx.low = i
		case "close":
			idx.close = i
		case "volume":
			idx.volume = i
		}
	}

	for name, i := range map[string]int{
		"time": idx.time, "open": idx.open, "high": idx.high,
		"low": idx.low, "close": idx.close, "volume": idx.volume,
	} {
		if i < 0 {
			return columnIndex{}, errors.Newf(errors.ErrCodeDataLoadFailed,
				"CSV header is missing a %s column", name)
		}
	}

	return idx, nil
}

func parseBar(record []string, idx columnIndex) (types.PriceBar, error) {
	ts, err := parseTime(record[idx.time])
	if err != nil {
		return types.PriceBar{}, err
	}

	fields := [4]float64{}
	for i, col := range []int{idx.open, idx.high, idx.low, idx.close} {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil {
			return types.PriceBar{}, err
		}

		fields[i] = v
	}

	volume, err := strconv.ParseFloat(strings.TrimSpace(record[idx.volume]), 64)
	if err != nil {
		return types.PriceBar{}, err
	}

	return types.PriceBar{
		Time:   ts,
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: volume,
	}, nil
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	var lastErr error

	for _, layout := range timeLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts.UTC(), nil
		}

		lastErr = err
	}

	// Fall back to a unix epoch in seconds.
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}

	return time.Time{}, lastErr
}
