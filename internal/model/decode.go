package model

import (
	"fmt"
	"math"
	"sort"
)

// TopK ranks output-layer scores and returns the k most likely labels.
// When softmax is set the scores are treated as logits.
// Ties keep the lower class index first.
func TopK(scores []float32, labels []string, k int, softmax bool) []Prediction {
	probs := scores
	if softmax {
		probs = Softmax(scores)
	}

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})

	if k > len(idx) {
		k = len(idx)
	}
	if k < 0 {
		k = 0
	}

	predictions := make([]Prediction, 0, k)
	for _, i := range idx[:k] {
		predictions = append(predictions, Prediction{
			Label:       labelFor(labels, i),
			Probability: clamp01(probs[i]),
		})
	}
	return predictions
}

// Softmax returns exp(x_i - max) / sum, which is stable for large logits.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func labelFor(labels []string, i int) string {
	if i < len(labels) && labels[i] != "" {
		return labels[i]
	}
	return fmt.Sprintf("class_%d", i)
}

func clamp01(p float32) float32 {
	switch {
	case p < 0, math.IsNaN(float64(p)):
		return 0
	case p > 1:
		return 1
	}
	return p
}
