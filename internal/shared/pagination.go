package shared

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Window describes a skip/limit slice of an ordered listing.
type Window struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// NewWindow clamps skip and limit into sane bounds.
func NewWindow(skip, limit int) Window {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Window{Skip: skip, Limit: limit}
}
