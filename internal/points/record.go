package points

// Record is a collection of readings taken at a given grid point on a given
// day.
type Record struct {
	// Dimensions
	Timestamp int64 // unix milliseconds
	GPI       int
	Latitude  float32
	Longitude float32

	// Values holds one reading per variable, in Scanner.Variables() order.
	Values []float64
}
