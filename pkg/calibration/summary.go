package calibration

import (
	"gonum.org/v1/gonum/stat"
)

// Summary describes the spread of a sweep.
type Summary struct {
	Steps      int     `json:"steps"`
	MeanHz     float64 `json:"meanHz"`
	StdDevHz   float64 `json:"stdDevHz"`
	MinErrorHz uint32  `json:"minErrorHz"`
	MaxErrorHz uint32  `json:"maxErrorHz"`
	// HzPerStep is the least-squares slope of frequency over trim.
	HzPerStep float64 `json:"hzPerStep"`
}

// Summarize computes sweep statistics. It is informational only and plays
// no part in selecting a trim value.
func Summarize(steps []Step) Summary {
	sum := Summary{Steps: len(steps)}
	if len(steps) == 0 {
		return sum
	}

	trims := make([]float64, len(steps))
	hz := make([]float64, len(steps))
	sum.MinErrorHz = steps[0].ErrorHz
	for i, s := range steps {
		trims[i] = float64(s.Trim)
		hz[i] = float64(s.Hz)
		if s.ErrorHz < sum.MinErrorHz {
			sum.MinErrorHz = s.ErrorHz
		}
		if s.ErrorHz > sum.MaxErrorHz {
			sum.MaxErrorHz = s.ErrorHz
		}
	}

	sum.MeanHz, sum.StdDevHz = stat.MeanStdDev(hz, nil)
	if len(steps) > 1 {
		_, sum.HzPerStep = stat.LinearRegression(trims, hz, nil, false)
	} else {
		sum.StdDevHz = 0
	}

	return sum
}
