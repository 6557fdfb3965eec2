package chat

// Direction selects which side of a pagination anchor to read.
type Direction int

const (
	Before Direction = iota
	After
)

// PageQuery bounds a windowed read. Anchor is a unix-ms timestamp for
// conversation windows and a sequence number for message windows; it is
// exclusive in both directions. Before windows return newest-first,
// After windows oldest-first.
type PageQuery struct {
	Anchor    int64
	Direction Direction
	Limit     int
}

// Validate checks the query bounds.
func (q PageQuery) Validate() error {
	if q.Limit <= 0 {
		return &InvalidArgumentError{Field: "limit", Reason: "must be positive"}
	}
	if q.Anchor < 0 {
		return &InvalidArgumentError{Field: "anchor", Reason: "must not be negative"}
	}
	if q.Direction != Before && q.Direction != After {
		return &InvalidArgumentError{Field: "direction", Reason: "unknown direction"}
	}
	return nil
}
