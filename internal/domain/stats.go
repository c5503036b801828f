package domain

// PageCount is an event count for one page path.
type PageCount struct {
	Page  string `json:"page"`
	Views int    `json:"views"`
}

// ReferrerCount is an event count for one referrer.
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Views    int    `json:"views"`
}

// DimensionCount is a unique-visitor count for one dimension value
// (country, city, device type, OS or browser).
type DimensionCount struct {
	Value    string `json:"value"`
	Visitors int    `json:"visitors"`
}

// HourCount is a unique-visitor count for one hour-of-day bucket.
type HourCount struct {
	Hour     string `json:"hour"`
	Visitors int    `json:"visitors"`
}

// StatsSnapshot is the aggregated view of a site's events over a window.
type StatsSnapshot struct {
	TotalVisitors    int              `json:"total_visitors"`
	ActiveUsers      int              `json:"active_users"`
	TopPages         []PageCount      `json:"top_pages"`
	TopReferrers     []ReferrerCount  `json:"top_referrers"`
	TopCountries     []DimensionCount `json:"top_countries"`
	TopCities        []DimensionCount `json:"top_cities"`
	DeviceTypes      []DimensionCount `json:"device_types"`
	OperatingSystems []DimensionCount `json:"operating_systems"`
	Browsers         []DimensionCount `json:"browsers"`
	VisitorsByHour   []HourCount      `json:"visitors_by_hour"`
}
