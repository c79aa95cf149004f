package location

import "github.com/rowsift/rowsift/internal/geo"

// DefaultAliases returns the built-in alias table covering major US and
// international cities, including common abbreviations and state-qualified
// spellings. Callers treat the result as immutable.
func DefaultAliases() map[string]Canonical {
	cities := []struct {
		canonical string
		bucketID  string
		lat, lng  float64
		aliases   []string
	}{
		{"New York", "city:new-york", 40.7128, -74.0060,
			[]string{"new york", "new york city", "new york ny", "nyc", "manhattan"}},
		{"Los Angeles", "city:los-angeles", 34.0522, -118.2437,
			[]string{"los angeles", "los angeles ca", "la", "l a"}},
		{"Chicago", "city:chicago", 41.8781, -87.6298,
			[]string{"chicago", "chicago il", "chi town"}},
		{"Houston", "city:houston", 29.7604, -95.3698,
			[]string{"houston", "houston tx"}},
		{"Phoenix", "city:phoenix", 33.4484, -112.0740,
			[]string{"phoenix", "phoenix az"}},
		{"Philadelphia", "city:philadelphia", 39.9526, -75.1652,
			[]string{"philadelphia", "philadelphia pa", "philly"}},
		{"San Antonio", "city:san-antonio", 29.4241, -98.4936,
			[]string{"san antonio", "san antonio tx"}},
		{"San Diego", "city:san-diego", 32.7157, -117.1611,
			[]string{"san diego", "san diego ca"}},
		{"Dallas", "city:dallas", 32.7767, -96.7970,
			[]string{"dallas", "dallas tx", "dfw"}},
		{"San Francisco", "city:san-francisco", 37.7749, -122.4194,
			[]string{"san francisco", "san francisco ca", "sf", "san fran"}},
		{"Seattle", "city:seattle", 47.6062, -122.3321,
			[]string{"seattle", "seattle wa"}},
		{"Boston", "city:boston", 42.3601, -71.0589,
			[]string{"boston", "boston ma"}},
		{"Miami", "city:miami", 25.7617, -80.1918,
			[]string{"miami", "miami fl"}},
		{"Denver", "city:denver", 39.7392, -104.9903,
			[]string{"denver", "denver co"}},
		{"Atlanta", "city:atlanta", 33.7490, -84.3880,
			[]string{"atlanta", "atlanta ga", "atl"}},
		{"Austin", "city:austin", 30.2672, -97.7431,
			[]string{"austin", "austin tx"}},
		{"Portland", "city:portland", 45.5152, -122.6784,
			[]string{"portland", "portland or"}},
		{"Las Vegas", "city:las-vegas", 36.1699, -115.1398,
			[]string{"las vegas", "las vegas nv", "vegas"}},
		{"Washington", "city:washington-dc", 38.9072, -77.0369,
			[]string{"washington", "washington dc", "dc", "d c"}},
		{"London", "city:london", 51.5074, -0.1278,
			[]string{"london", "london uk", "london england"}},
		{"Paris", "city:paris", 48.8566, 2.3522,
			[]string{"paris", "paris france"}},
		{"Berlin", "city:berlin", 52.5200, 13.4050,
			[]string{"berlin", "berlin germany"}},
		{"Madrid", "city:madrid", 40.4168, -3.7038,
			[]string{"madrid", "madrid spain"}},
		{"Rome", "city:rome", 41.9028, 12.4964,
			[]string{"rome", "rome italy", "roma"}},
		{"Amsterdam", "city:amsterdam", 52.3676, 4.9041,
			[]string{"amsterdam", "amsterdam netherlands"}},
		{"Tokyo", "city:tokyo", 35.6762, 139.6503,
			[]string{"tokyo", "tokyo japan"}},
		{"Singapore", "city:singapore", 1.3521, 103.8198,
			[]string{"singapore", "singapore sg"}},
		{"Hong Kong", "city:hong-kong", 22.3193, 114.1694,
			[]string{"hong kong", "hong kong hk", "hk"}},
		{"Sydney", "city:sydney", -33.8688, 151.2093,
			[]string{"sydney", "sydney australia"}},
		{"Toronto", "city:toronto", 43.6532, -79.3832,
			[]string{"toronto", "toronto canada", "toronto on"}},
		{"Vancouver", "city:vancouver", 49.2827, -123.1207,
			[]string{"vancouver", "vancouver bc", "vancouver canada"}},
		{"Mexico City", "city:mexico-city", 19.4326, -99.1332,
			[]string{"mexico city", "ciudad de mexico", "cdmx"}},
		{"Sao Paulo", "city:sao-paulo", -23.5505, -46.6333,
			[]string{"sao paulo", "sao paulo brazil"}},
		{"Mumbai", "city:mumbai", 19.0760, 72.8777,
			[]string{"mumbai", "mumbai india", "bombay"}},
		{"Dubai", "city:dubai", 25.2048, 55.2708,
			[]string{"dubai", "dubai uae"}},
	}

	table := make(map[string]Canonical, len(cities)*3)
	for _, city := range cities {
		c := Canonical{
			Name:     city.canonical,
			Point:    geo.Point{Lat: city.lat, Lng: city.lng},
			BucketID: city.bucketID,
		}
		for _, alias := range city.aliases {
			table[alias] = c
		}
	}
	return table
}
