package model

// Dataset is an ordered collection of labelled points plus the covariate
// names that define the feature column order.
type Dataset struct {
	Points   []GeoPoint `json:"points"`
	Features []string   `json:"features"`
}

// NewDataset returns a dataset over points using the given feature order.
func NewDataset(points []GeoPoint, features []string) Dataset {
	return Dataset{Points: points, Features: features}
}

// Len returns the number of points.
func (d Dataset) Len() int { return len(d.Points) }

// Subset returns a dataset holding the points at idx, in idx order.
func (d Dataset) Subset(idx []int) Dataset {
	points := make([]GeoPoint, len(idx))
	for i, j := range idx {
		points[i] = d.Points[j]
	}
	return Dataset{Points: points, Features: d.Features}
}

// Labels returns the class label of every point.
func (d Dataset) Labels() []int {
	labels := make([]int, len(d.Points))
	for i, p := range d.Points {
		labels[i] = p.Label
	}
	return labels
}

// LabelCounts returns the number of presence and background points.
func (d Dataset) LabelCounts() (presence, background int) {
	for _, p := range d.Points {
		if p.Label == LabelPresence {
			presence++
		} else {
			background++
		}
	}
	return presence, background
}

// Matrix builds the feature matrix in d.Features column order together with
// the label vector. Missing covariates become NaN.
func (d Dataset) Matrix() ([][]float64, []int) {
	x := make([][]float64, len(d.Points))
	y := make([]int, len(d.Points))
	for i, p := range d.Points {
		row := make([]float64, len(d.Features))
		for j, name := range d.Features {
			row[j] = p.Feature(name)
		}
		x[i] = row
		y[i] = p.Label
	}
	return x, y
}

// WithFolds returns a copy of the dataset with fold ids applied positionally.
func (d Dataset) WithFolds(folds []int) Dataset {
	points := make([]GeoPoint, len(d.Points))
	copy(points, d.Points)
	for i := range points {
		if i < len(folds) {
			points[i].Fold = folds[i]
		}
	}
	return Dataset{Points: points, Features: d.Features}
}
