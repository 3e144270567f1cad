package training

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/habitat-cli/internal/fault"
)

// DefaultThreshold is used when the precision-recall curve gives no usable
// operating point.
const DefaultThreshold = 0.5

// PRCurve is a weighted precision-recall curve. Thresholds are the distinct
// scores in ascending order; Precision[i] and Recall[i] are measured when
// predicting presence for scores >= Thresholds[i]. Precision and Recall carry
// one extra terminal point (1, 0) with no threshold.
type PRCurve struct {
	Precision  []float64
	Recall     []float64
	Thresholds []float64
}

// PrecisionRecallCurve computes the curve of scores against binary labels
// with per-sample weights.
func PrecisionRecallCurve(labels []int, scores, weights []float64) PRCurve {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var (
		tps, fps   []float64
		thresholds []float64
		tp, fp     float64
	)
	for k, i := range order {
		if labels[i] == 1 {
			tp += weights[i]
		} else {
			fp += weights[i]
		}
		if k == len(order)-1 || scores[order[k+1]] != scores[i] {
			tps = append(tps, tp)
			fps = append(fps, fp)
			thresholds = append(thresholds, scores[i])
		}
	}

	m := len(thresholds)
	curve := PRCurve{
		Precision:  make([]float64, m+1),
		Recall:     make([]float64, m+1),
		Thresholds: make([]float64, m),
	}
	totalPos := 0.0
	if m > 0 {
		totalPos = tps[m-1]
	}
	// Reverse into ascending threshold order.
	for k := 0; k < m; k++ {
		src := m - 1 - k
		if ps := tps[src] + fps[src]; ps != 0 {
			curve.Precision[k] = tps[src] / ps
		}
		if totalPos != 0 {
			curve.Recall[k] = tps[src] / totalPos
		} else {
			curve.Recall[k] = 1
		}
		curve.Thresholds[k] = thresholds[src]
	}
	curve.Precision[m] = 1
	curve.Recall[m] = 0
	return curve
}

// ClassBalancedWeights gives each class a total weight of 0.5.
func ClassBalancedWeights(labels []int) []float64 {
	var pos, neg int
	for _, y := range labels {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	w := make([]float64, len(labels))
	for i, y := range labels {
		if y == 1 {
			w[i] = 0.5 / float64(pos)
		} else {
			w[i] = 0.5 / float64(neg)
		}
	}
	return w
}

// SelectThreshold returns the probability threshold that maximizes F1 on the
// class-balanced precision-recall curve of probs against labels. The first
// maximum in ascending threshold order wins. When the maximum is the first
// curve point or the terminal point, or labels hold a single class,
// DefaultThreshold is returned.
func SelectThreshold(probs []float64, labels []int) (float64, error) {
	if len(probs) == 0 {
		return 0, fault.Input("training.SelectThreshold", "no probabilities")
	}
	if len(probs) != len(labels) {
		return 0, fault.Input("training.SelectThreshold", "%d probabilities for %d labels", len(probs), len(labels))
	}
	var pos int
	for _, y := range labels {
		if y == 1 {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return DefaultThreshold, nil
	}

	curve := PrecisionRecallCurve(labels, probs, ClassBalancedWeights(labels))
	f1 := make([]float64, len(curve.Precision))
	for i := range f1 {
		f1[i] = 2 * curve.Precision[i] * curve.Recall[i] / (curve.Precision[i] + curve.Recall[i] + 1e-12)
	}
	best := floats.MaxIdx(f1)
	if best <= 0 || best >= len(curve.Thresholds) {
		return DefaultThreshold, nil
	}
	return curve.Thresholds[best], nil
}

// Metrics are test-fold scores. Precision and F1 use class-balanced weights;
// Recall is unweighted.
type Metrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Evaluate scores binary predictions against labels. A metric whose
// denominator is zero is reported as zero.
func Evaluate(labels, preds []int) Metrics {
	w := ClassBalancedWeights(labels)
	var tpW, fpW, fnW float64
	var tp, fn int
	for i, y := range labels {
		switch {
		case y == 1 && preds[i] == 1:
			tpW += w[i]
			tp++
		case y != 1 && preds[i] == 1:
			fpW += w[i]
		case y == 1:
			fnW += w[i]
			fn++
		}
	}

	var m Metrics
	if tpW+fpW > 0 {
		m.Precision = tpW / (tpW + fpW)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	var weightedRecall float64
	if tpW+fnW > 0 {
		weightedRecall = tpW / (tpW + fnW)
	}
	if m.Precision+weightedRecall > 0 {
		m.F1 = 2 * m.Precision * weightedRecall / (m.Precision + weightedRecall)
	}
	return m
}
