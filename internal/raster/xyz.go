package raster

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/tabular"
)

// ReadXYZFile loads a grid from an XYZ text file; see ReadXYZ.
func ReadXYZFile(ctx context.Context, path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	g, err := ReadXYZ(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", path)
	}
	return g, nil
}

// ReadXYZ parses a comma-separated point grid with a header naming the
// latitude, longitude, and value columns (lat/latitude, lon/longitude, and
// the first remaining column). Cells missing from the file, or with empty or
// "nan" values, are NaN. Axes are sorted ascending.
func ReadXYZ(ctx context.Context, r io.Reader) (*Grid, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr, err := tabular.NewReader(r, tabular.Options{TrimSpace: true, Comment: '#'})
	if err != nil {
		return nil, eris.Wrap(err, "raster: xyz header")
	}
	latCol, lonCol, valCol, err := xyzColumns(tr)
	if err != nil {
		return nil, err
	}

	type sample struct{ lat, lon, v float64 }
	var (
		samples []sample
		skipped int
	)

	rowCh, errCh := tr.Stream(ctx)
	for row := range rowCh {
		lat, err1 := strconv.ParseFloat(row.Get(latCol), 64)
		lon, err2 := strconv.ParseFloat(row.Get(lonCol), 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		samples = append(samples, sample{lat: lat, lon: lon, v: parseValue(row.Get(valCol))})
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "raster: stream xyz")
	}
	if len(samples) == 0 {
		return nil, eris.New("raster: xyz file has no cells")
	}
	if skipped > 0 {
		zap.L().Debug("raster: skipped malformed xyz rows", zap.Int("skipped", skipped))
	}

	lats := uniqueSorted(len(samples), func(i int) float64 { return samples[i].lat })
	lons := uniqueSorted(len(samples), func(i int) float64 { return samples[i].lon })
	g := NewGrid(lats, lons)
	for _, s := range samples {
		r := sort.SearchFloat64s(lats, s.lat)
		c := sort.SearchFloat64s(lons, s.lon)
		g.Set(r, c, s.v)
	}
	return g, nil
}

// xyzColumns resolves the latitude, longitude, and value columns. The value
// column is the first one that is neither coordinate.
func xyzColumns(tr *tabular.Reader) (lat, lon, value int, err error) {
	lat = tr.Header.Index("lat", "latitude", "y")
	lon = tr.Header.Index("lon", "lng", "longitude", "x")
	value = -1
	for i := range tr.Names {
		if i != lat && i != lon {
			value = i
			break
		}
	}
	if lat < 0 || lon < 0 || value < 0 {
		return 0, 0, 0, eris.Errorf("raster: xyz header %v must name latitude, longitude and a value column", tr.Names)
	}
	return lat, lon, value, nil
}

// WriteXYZ writes g in the layout ReadXYZ accepts, one row per cell with a
// "lat,lon,<name>" header. NaN cells are written as "nan".
func WriteXYZ(w io.Writer, g *Grid, name string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"lat", "lon", name}); err != nil {
		return eris.Wrap(err, "raster: write xyz header")
	}
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			lat, lon := g.Center(r, c)
			v := "nan"
			if x := g.At(r, c); !math.IsNaN(x) {
				v = strconv.FormatFloat(x, 'g', -1, 64)
			}
			rec := []string{
				strconv.FormatFloat(lat, 'g', -1, 64),
				strconv.FormatFloat(lon, 'g', -1, 64),
				v,
			}
			if err := cw.Write(rec); err != nil {
				return eris.Wrapf(err, "raster: write xyz cell (%d, %d)", r, c)
			}
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "raster: flush xyz")
}

func parseValue(s string) float64 {
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func uniqueSorted(n int, at func(int) float64) []float64 {
	seen := make(map[float64]struct{}, n)
	out := make([]float64, 0)
	for i := 0; i < n; i++ {
		v := at(i)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
