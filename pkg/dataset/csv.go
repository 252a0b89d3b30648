package dataset

import (
	"io"
	"math"
	"os"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// MissingValues are the cell contents treated as NaN when reading CSV files.
var MissingValues = []string{"", "NA", "NaN", "nan", "null", "NULL", "?"}

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	frame, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return frame, nil
}

// ReadCSV parses CSV data with a header row. Numeric and boolean columns are
// kept as floats; string columns are label-encoded in sorted order.
func ReadCSV(r io.Reader) (*Frame, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(MissingValues),
	)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse csv")
	}
	return FromDataFrame(df)
}

// FromDataFrame converts a gota DataFrame into a Frame.
func FromDataFrame(df dataframe.DataFrame) (*Frame, error) {
	names := df.Names()
	nrow := df.Nrow()
	if len(names) == 0 {
		return nil, errors.New("dataframe has no columns")
	}

	rows := make([][]float64, nrow)
	for i := range rows {
		rows[i] = make([]float64, len(names))
	}
	frame := &Frame{Columns: names, Rows: rows}

	for j, name := range names {
		col := df.Col(name)
		switch col.Type() {
		case series.String:
			codes, cats := encodeLabels(col.Records(), col.IsNaN())
			for i, v := range codes {
				rows[i][j] = v
			}
			if frame.Categories == nil {
				frame.Categories = make(map[string][]string)
			}
			frame.Categories[name] = cats
		default:
			for i, v := range col.Float() {
				rows[i][j] = v
			}
		}
	}
	return frame, nil
}

func encodeLabels(records []string, missing []bool) ([]float64, []string) {
	uniq := make(map[string]bool)
	for i, rec := range records {
		if !missing[i] {
			uniq[rec] = true
		}
	}
	cats := make([]string, 0, len(uniq))
	for k := range uniq {
		cats = append(cats, k)
	}
	sort.Strings(cats)
	index := make(map[string]int, len(cats))
	for i, c := range cats {
		index[c] = i
	}
	codes := make([]float64, len(records))
	for i, rec := range records {
		if missing[i] {
			codes[i] = math.NaN()
			continue
		}
		codes[i] = float64(index[rec])
	}
	return codes, cats
}
