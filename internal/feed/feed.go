// Package feed reads and writes the bar CSV format consumed by the backtest driver.
//
// A file holds one bar per row: timestamp,open,high,low,close[,volume]. The
// timestamp is Unix milliseconds, Unix seconds, RFC3339 or "2006-01-02 15:04:05"
// in the calendar time zone. An optional header row is skipped. UTF-8 and
// UTF-16 input with a byte order mark are both accepted.
package feed

import (
	"crypto/sha256"
	"dualthrust-bt-go/internal/models"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Header is the column layout written by WriteCSV.
var Header = []string{"timestamp", "open", "high", "low", "close", "volume"}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// LoadCSV reads every bar of the file at path.
func LoadCSV(path string, loc *time.Location) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	bars, err := ReadCSV(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// Fingerprint identifies the content of the file at path: base62 of a SHA-256 digest.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return base62.EncodeToString(h.Sum(nil)[:16]), nil
}

// ReadCSV parses bars from r in file order. It does not sort; ordering is checked by the driver.
func ReadCSV(r io.Reader, loc *time.Location) ([]models.Bar, error) {
	if loc == nil {
		loc = time.UTC
	}
	// BOMOverride switches to UTF-16 when the input starts with a UTF-16 BOM and strips a UTF-8 BOM.
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []models.Bar
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		if first {
			first = false
			if isHeader(rec) {
				continue
			}
		}
		bar, err := parseRecord(rec, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func isHeader(rec []string) bool {
	if len(rec) < 2 {
		return false
	}
	_, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	return err != nil
}

func parseRecord(rec []string, loc *time.Location) (models.Bar, error) {
	if len(rec) < 5 {
		return models.Bar{}, fmt.Errorf("expected at least 5 columns, got %d", len(rec))
	}
	ts, err := ParseTimestamp(strings.TrimSpace(rec[0]), loc)
	if err != nil {
		return models.Bar{}, err
	}

	names := []string{"open", "high", "low", "close"}
	prices := make([]decimal.Decimal, 4)
	for i, name := range names {
		v, err := decimal.NewFromString(strings.TrimSpace(rec[i+1]))
		if err != nil {
			return models.Bar{}, fmt.Errorf("bad %s %q", name, rec[i+1])
		}
		if !v.IsPositive() {
			return models.Bar{}, fmt.Errorf("%s must be positive, got %s", name, v)
		}
		prices[i] = v
	}

	volume := decimal.Zero
	if len(rec) > 5 && strings.TrimSpace(rec[5]) != "" {
		if volume, err = decimal.NewFromString(strings.TrimSpace(rec[5])); err != nil {
			return models.Bar{}, fmt.Errorf("bad volume %q", rec[5])
		}
		if volume.IsNegative() {
			return models.Bar{}, fmt.Errorf("volume must not be negative, got %s", volume)
		}
	}

	bar := models.Bar{Timestamp: ts, Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3], Volume: volume}
	if err := checkRange(bar); err != nil {
		return models.Bar{}, err
	}
	return bar, nil
}

func checkRange(b models.Bar) error {
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("high %s below low %s", b.High, b.Low)
	}
	if b.Open.GreaterThan(b.High) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("open/close above high %s", b.High)
	}
	if b.Open.LessThan(b.Low) || b.Close.LessThan(b.Low) {
		return fmt.Errorf("open/close below low %s", b.Low)
	}
	return nil
}

// ParseTimestamp reads a bar timestamp. Numeric values of 12 or more digits are Unix milliseconds,
// shorter ones Unix seconds.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if len(s) >= 12 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// WriteCSV writes bars with a header and Unix millisecond timestamps.
func WriteCSV(w io.Writer, bars []models.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write(Record(b)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Record renders one bar as a CSV row in Header order.
func Record(b models.Bar) []string {
	return []string{
		strconv.FormatInt(b.Timestamp.UnixMilli(), 10),
		b.Open.String(),
		b.High.String(),
		b.Low.String(),
		b.Close.String(),
		b.Volume.String(),
	}
}
