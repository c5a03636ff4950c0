package domain

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// ATR returns the average true range over the last period bars.
// Returns 0 if there is not enough history.
func ATR(candles []Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}
	var sum float64
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		c := candles[i]
		prev := candles[i-1]
		tr := c.High - c.Low
		if hc := abs(c.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := abs(c.Low - prev.Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
