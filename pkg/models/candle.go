package models

// Candle is one OHLC bar. Series are ordered by bucket start time and
// append-only except for in-place mutation of the last, still-open bar.
type Candle struct {
	Time  int64
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Granularity is a fixed bar width. Resolution is expressed in minutes;
// QueryParam is the encoding the benchmark history API expects.
type Granularity struct {
	Name       string
	Resolution int64
	QueryParam string
}

// BucketSeconds returns the bar width in seconds.
func (g Granularity) BucketSeconds() int64 {
	return g.Resolution * 60
}

// Granularities is the supported set of bar widths, finest first.
var Granularities = []Granularity{
	{Name: "1m", Resolution: 1, QueryParam: "1"},
	{Name: "2m", Resolution: 2, QueryParam: "2"},
	{Name: "5m", Resolution: 5, QueryParam: "5"},
	{Name: "15m", Resolution: 15, QueryParam: "15"},
	{Name: "30m", Resolution: 30, QueryParam: "30"},
	{Name: "1h", Resolution: 60, QueryParam: "60"},
	{Name: "2h", Resolution: 120, QueryParam: "120"},
	{Name: "4h", Resolution: 240, QueryParam: "240"},
	{Name: "6h", Resolution: 360, QueryParam: "360"},
	{Name: "12h", Resolution: 720, QueryParam: "720"},
	{Name: "1d", Resolution: 1440, QueryParam: "D"},
	{Name: "1w", Resolution: 10080, QueryParam: "W"},
	{Name: "1M", Resolution: 302400, QueryParam: "M"},
}

// DefaultGranularity is the bar width selected at session start.
var DefaultGranularity = Granularities[3]

// GranularityByName looks up a supported granularity, reporting whether
// it exists.
func GranularityByName(name string) (Granularity, bool) {
	for _, g := range Granularities {
		if g.Name == name {
			return g, true
		}
	}
	return Granularity{}, false
}
