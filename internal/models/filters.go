package models

// TripFilter represents filter parameters for querying trips
type TripFilter struct {
	DriverID  string `form:"-"`
	StartTime int64  `form:"startTime"` // Unix milliseconds
	EndTime   int64  `form:"endTime"`   // Unix milliseconds
	Policy    string `form:"policy"`    // standard, conservative
	MinScore  int    `form:"minScore"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}

// Normalize applies the pagination defaults and limits
func (f *TripFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 100
	}
	if f.PageSize > 1000 {
		f.PageSize = 1000
	}
}

// Offset returns the row offset of the current page
func (f TripFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
