package query

import "strings"

// OrderBy sorts by a scalar field, possibly reached through one to-one
// relation: Path is either [field] or [relation, field].
type OrderBy struct {
	Path []string
	Desc bool
}

// String returns "path asc|desc"
func (o OrderBy) String() string {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return strings.Join(o.Path, ".") + " " + dir
}

// FindArgs are the arguments of a read. Take of zero means no limit.
type FindArgs struct {
	Where   Filter
	OrderBy []OrderBy
	Skip    int
	Take    int

	// Include loads relations into the result, keyed by relation name
	Include map[string]*Include

	// Count adds per-relation counts under the "_count" key of each record.
	// A nil filter counts every related record.
	Count map[string]Filter
}

// Include loads one relation. IDOnly limits the loaded records to their
// identifier field.
type Include struct {
	FindArgs
	IDOnly bool
}

// IDs returns an Include that loads only the related identifiers
func IDs() *Include {
	return &Include{IDOnly: true}
}

// Paginated reports whether the args limit the result window
func (a FindArgs) Paginated() bool {
	return a.Skip > 0 || a.Take > 0
}

// Window applies Skip and Take to a result length and returns the bounds of
// the resulting slice
func (a FindArgs) Window(n int) (int, int) {
	start := a.Skip
	if start > n {
		start = n
	}
	end := n
	if a.Take > 0 && start+a.Take < end {
		end = start + a.Take
	}
	return start, end
}
