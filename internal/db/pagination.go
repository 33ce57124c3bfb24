package db

// DefaultPageSize caps list responses when the caller does not ask for a size.
const DefaultPageSize = 50

// MaxPageSize is the hard cap on list responses.
const MaxPageSize = 200

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}
