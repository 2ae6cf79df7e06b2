package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"candle-lab/internal/domain"
)

// CSVSource reads candles from a CSV file with columns
// timestamp,open,high,low,close,volume. A header row is skipped when the
// first field is not numeric.
type CSVSource struct {
	path string
}

// NewCSVSource creates a CSV-backed candle source.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Fetch reads the file and returns candles within [from, to].
func (s *CSVSource) Fetch(ctx context.Context, asset, chain string, interval domain.Interval, from, to int64) ([]domain.Candle, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return parseCandleCSV(f, from, to)
}

// Describe implements CandleSource.
func (s *CSVSource) Describe() string {
	return "csv:" + s.path
}

func parseCandleCSV(r io.Reader, from, to int64) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 6

	var candles []domain.Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line+1, err)
		}
		line++

		ts, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if line == 1 {
				// header row
				continue
			}
			return nil, fmt.Errorf("csv line %d: bad timestamp %q", line, record[0])
		}
		if ts < from || ts > to {
			continue
		}

		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad field %q", line, record[i+1])
			}
			vals[i] = v
		}

		candles = append(candles, domain.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	return candles, nil
}
