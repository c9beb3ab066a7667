package templates

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// O(1) per update, no history scans.
type RSI struct {
	period  int
	count   int
	prev    float64
	avgGain float64
	avgLoss float64
	current float64
}

// NewRSI creates a new RSI with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Update(v float64) {
	r.count++

	if r.count == 1 {
		// First value, no delta yet
		r.prev = v
		return
	}

	delta := v - r.prev
	r.prev = v

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = r.rsi()
		}
		return
	}

	// Wilder's smoothing: avg = (prevAvg * (period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = r.rsi()
}

func (r *RSI) rsi() float64 {
	if r.avgLoss == 0 {
		return 100.0
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prev = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
}
