package neuralnet

import "gonum.org/v1/gonum/floats"

// TrainParams holds the per-component learning settings.
type TrainParams struct {
	LearnRate  float64
	Momentum   float64
	WeightCost float64 // L2 cost, scaled by the number of accumulated frames
}

// Validate rejects negative rates.
func (p TrainParams) Validate() error {
	if p.LearnRate < 0 || p.Momentum < 0 || p.WeightCost < 0 {
		return ConfigError("negative training parameter %+v", p)
	}
	if p.Momentum >= 1 {
		return ConfigError("momentum %v must be below 1", p.Momentum)
	}
	return nil
}

// sgdStep applies one momentum SGD step to a slice of parameters:
//
//	corr = momentum*corr + grad + cost*w
//	w   -= lr*corr
//
// and clears grad. All slices have the same length.
func sgdStep(w, corr, grad []float64, lr, momentum, cost float64) {
	floats.Scale(momentum, corr)
	floats.Add(corr, grad)
	if cost != 0 {
		floats.AddScaled(corr, cost, w)
	}
	floats.AddScaled(w, -lr, corr)
	for i := range grad {
		grad[i] = 0
	}
}
