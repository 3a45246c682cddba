// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package strategy

// window is a fixed-size ring of samples.
type window struct {
	samples []float64
	next    int
	full    bool
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{samples: make([]float64, size)}
}

func (w *window) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// mean returns the average of the retained samples, or def when empty.
func (w *window) mean(def float64) float64 {
	n := w.len()
	if n == 0 {
		return def
	}
	var sum float64
	for _, v := range w.samples[:n] {
		sum += v
	}
	return sum / float64(n)
}

func (w *window) reset() {
	w.next = 0
	w.full = false
}
