package blendshape

// WeightMap maps canonical blendshape names to weights in [0, 1].
type WeightMap map[string]float64

// Clamp01 bounds a weight to the valid range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Copy returns an independent copy of the map.
func (w WeightMap) Copy() WeightMap {
	if w == nil {
		return nil
	}
	out := make(WeightMap, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Decay scales every weight by factor and removes entries that fall below
// epsilon. It returns the number of surviving entries. Used to ease an idle
// face back to neutral instead of snapping.
func (w WeightMap) Decay(factor, epsilon float64) int {
	for k, v := range w {
		v *= factor
		if v < epsilon {
			delete(w, k)
			continue
		}
		w[k] = v
	}
	return len(w)
}
