package domain

// FilterValidBars drops malformed provider rows and returns the survivors
// together with the number of rows dropped. A bar survives when its date
// parses and strictly advances the series, prices are non-negative,
// volume is non-negative, and low <= open, close <= high.
func FilterValidBars(bars []PriceBar) ([]PriceBar, int) {
	clean := make([]PriceBar, 0, len(bars))
	dropped := 0
	lastDate := ""

	for _, bar := range bars {
		if !validBar(bar) || (lastDate != "" && bar.Date <= lastDate) {
			dropped++
			continue
		}
		clean = append(clean, bar)
		lastDate = bar.Date
	}

	return clean, dropped
}

func validBar(b PriceBar) bool {
	if !ValidDate(b.Date) {
		return false
	}
	if b.Volume < 0 {
		return false
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 || b.AdjClose < 0 {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close || b.Open > b.High || b.Close > b.High {
		return false
	}
	return true
}
