package scorer

import (
	"fmt"
	"math/rand"
	"sort"

	"predictive-maintenance/risk"
)

// Metrics are the binary classification metrics reported after training.
type Metrics struct {
	Samples   int     `json:"samples"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	ROCAUC    float64 `json:"roc_auc"`
}

// Evaluate scores X with s, thresholds at 0.5 and compares against y.
func Evaluate(s risk.Scorer, X [][]float64, y []int) (Metrics, error) {
	if err := validateTrainingSet(X, y); err != nil {
		return Metrics{}, err
	}

	probs := make([]float64, len(X))
	var tp, fp, tn, fn int
	for i, row := range X {
		p, err := s.PredictProbability(row)
		if err != nil {
			return Metrics{}, fmt.Errorf("scoring sample %d: %w", i, err)
		}
		probs[i] = p
		predicted := 0
		if p >= 0.5 {
			predicted = 1
		}
		switch {
		case predicted == 1 && y[i] == 1:
			tp++
		case predicted == 1 && y[i] == 0:
			fp++
		case predicted == 0 && y[i] == 0:
			tn++
		default:
			fn++
		}
	}

	m := Metrics{Samples: len(X)}
	m.Accuracy = float64(tp+tn) / float64(len(X))
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.ROCAUC = rocAUC(probs, y)
	return m, nil
}

// rocAUC uses the rank-sum formulation with average ranks for ties. It
// returns 0.5 when only one class is present.
func rocAUC(probs []float64, y []int) float64 {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	ranks := make([]float64, len(probs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && probs[idx[j+1]] == probs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var positives, negatives int
	var rankSum float64
	for i, label := range y {
		if label == 1 {
			positives++
			rankSum += ranks[i]
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0.5
	}
	return (rankSum - float64(positives*(positives+1))/2) / float64(positives*negatives)
}

// StratifiedSplit shuffles each class with seed and moves testFraction of it
// into the test set, so both sets keep the class balance.
func StratifiedSplit(X [][]float64, y []int, testFraction float64, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	rng := rand.New(rand.NewSource(seed))

	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	labels := make([]int, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	for _, label := range labels {
		indices := byClass[label]
		rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
		nTest := int(float64(len(indices))*testFraction + 0.5)
		for k, i := range indices {
			if k < nTest {
				testX = append(testX, X[i])
				testY = append(testY, y[i])
			} else {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}
	}
	return trainX, trainY, testX, testY
}
