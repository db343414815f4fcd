package models

// Location is one row of the upstream city table.
type Location struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// LocationRequest is everything one pipeline run needs for a single point.
// Coordinates and the window are passed to the API as given.
type LocationRequest struct {
	Lat        float64
	Lon        float64
	Start      int64
	End        int64
	Identifier string
}

// Request builds the pipeline input for this location over [start, end].
func (l Location) Request(start, end int64) LocationRequest {
	return LocationRequest{
		Lat:        l.Lat,
		Lon:        l.Lon,
		Start:      start,
		End:        end,
		Identifier: l.Name,
	}
}
