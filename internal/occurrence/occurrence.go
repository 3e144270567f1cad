// Package occurrence loads GBIF occurrence exports and applies the basic
// quality filters that precede spatial processing.
package occurrence

import (
	"context"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/habitat-cli/internal/model"
	"github.com/sells-group/habitat-cli/internal/tabular"
)

// GBIF column names.
const (
	ColGBIFID      = "gbifid"
	ColSpecies     = "species"
	ColLatitude    = "decimallatitude"
	ColLongitude   = "decimallongitude"
	ColUncertainty = "coordinateuncertaintyinmeters"
)

// Record is one occurrence row. Missing numeric fields are NaN.
type Record struct {
	GBIFID      string
	Species     string
	Latitude    float64
	Longitude   float64
	Uncertainty float64
}

// LoadFile reads a tab-separated GBIF export from path.
func LoadFile(ctx context.Context, path, charset string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "occurrence: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	recs, err := LoadEncoded(ctx, f, charset)
	if err != nil {
		return nil, eris.Wrapf(err, "occurrence: load %s", path)
	}
	return recs, nil
}

// Load parses a tab-separated GBIF export. The header must name the
// latitude and longitude columns; the id, species, and uncertainty columns
// are optional.
func Load(ctx context.Context, r io.Reader) ([]Record, error) {
	return LoadEncoded(ctx, r, "")
}

// LoadEncoded is Load for an export in the named character encoding.
func LoadEncoded(ctx context.Context, r io.Reader, charset string) ([]Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr, err := tabular.NewReader(r, tabular.Options{Delimiter: '\t', LazyQuotes: true, TrimSpace: true, Charset: charset})
	if err != nil {
		return nil, eris.Wrap(err, "occurrence: header")
	}
	var (
		idCol   = tr.Header.Index(ColGBIFID)
		spCol   = tr.Header.Index(ColSpecies)
		latCol  = tr.Header.Index(ColLatitude)
		lonCol  = tr.Header.Index(ColLongitude)
		uncCol  = tr.Header.Index(ColUncertainty)
		species = make(map[string]struct{})
		recs    []Record
	)
	if latCol < 0 || lonCol < 0 {
		return nil, eris.Errorf("occurrence: header %v lacks decimalLatitude/decimalLongitude", tr.Names)
	}

	rowCh, errCh := tr.Stream(ctx)
	for row := range rowCh {
		rec := Record{
			GBIFID:      row.Get(idCol),
			Species:     row.Get(spCol),
			Latitude:    parseFloat(row.Get(latCol)),
			Longitude:   parseFloat(row.Get(lonCol)),
			Uncertainty: parseFloat(row.Get(uncCol)),
		}
		if rec.GBIFID == "" {
			rec.GBIFID = "row-" + strconv.Itoa(row.Line)
		}
		if rec.Species != "" {
			species[rec.Species] = struct{}{}
		}
		recs = append(recs, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "occurrence: stream")
	}

	zap.L().Info("occurrence records loaded",
		zap.Int("rows", len(recs)),
		zap.Int("species", len(species)),
	)
	return recs, nil
}

// FilterOptions controls FilterBasicIssues.
type FilterOptions struct {
	// UncertaintyThreshold drops records whose coordinate uncertainty is at
	// least this many meters. Zero disables the check.
	UncertaintyThreshold float64
	// DropMissingUncertainty drops records with no uncertainty value.
	DropMissingUncertainty bool
}

// FilterBasicIssues drops records with a large or (optionally) missing
// coordinate uncertainty and records without usable coordinates, logging
// the count at every stage, and returns the survivors as presence points
// keyed by GBIF id.
func FilterBasicIssues(recs []Record, opts FilterOptions) []model.GeoPoint {
	log := zap.L().With(zap.String("component", "occurrence"))

	kept := recs
	if opts.UncertaintyThreshold > 0 {
		kept = keep(kept, func(r Record) bool {
			return math.IsNaN(r.Uncertainty) || r.Uncertainty < opts.UncertaintyThreshold
		})
		log.Info("filtered on coordinate uncertainty",
			zap.Int("removed", len(recs)-len(kept)),
			zap.Int("remaining", len(kept)),
			zap.Float64("threshold_m", opts.UncertaintyThreshold),
		)
	}

	if opts.DropMissingUncertainty {
		before := len(kept)
		kept = keep(kept, func(r Record) bool { return !math.IsNaN(r.Uncertainty) })
		log.Info("filtered on missing coordinate uncertainty",
			zap.Int("removed", before-len(kept)),
			zap.Int("remaining", len(kept)),
		)
	}

	before := len(kept)
	points := make([]model.GeoPoint, 0, len(kept))
	for _, r := range kept {
		p := model.NewPoint(r.GBIFID, r.Latitude, r.Longitude, model.LabelPresence)
		if p.Valid() {
			points = append(points, p)
		}
	}
	log.Info("filtered on missing coordinates",
		zap.Int("removed", before-len(points)),
		zap.Int("remaining", len(points)),
	)
	return points
}

func keep(recs []Record, pred func(Record) bool) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
