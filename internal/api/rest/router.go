package rest

import (
	"net/url"
	"strings"
)

// Shape is the kind of resource a path addresses
type Shape int

const (
	// ShapeCollection is /{type}
	ShapeCollection Shape = iota
	// ShapeResource is /{type}/{id}
	ShapeResource
	// ShapeRelated is /{type}/{id}/{relationship}
	ShapeRelated
	// ShapeRelationship is /{type}/{id}/relationships/{relationship}
	ShapeRelationship
)

// String returns the string representation of the shape
func (s Shape) String() string {
	switch s {
	case ShapeCollection:
		return "collection"
	case ShapeResource:
		return "resource"
	case ShapeRelated:
		return "related"
	case ShapeRelationship:
		return "relationship"
	default:
		return "unknown"
	}
}

// Route is a matched request path
type Route struct {
	Shape        Shape
	Type         string
	ID           string
	Relationship string
}

// Match parses a request path. Leading and trailing slashes are ignored and
// segments are unescaped. The path shapes have distinct segment counts, so
// at most one can match.
func Match(path string) (Route, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Route{}, false
	}

	raw := strings.Split(trimmed, "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		unescaped, err := url.PathUnescape(s)
		if err != nil || unescaped == "" {
			return Route{}, false
		}
		segs[i] = unescaped
	}

	switch len(segs) {
	case 1:
		return Route{Shape: ShapeCollection, Type: segs[0]}, true
	case 2:
		return Route{Shape: ShapeResource, Type: segs[0], ID: segs[1]}, true
	case 3:
		return Route{Shape: ShapeRelated, Type: segs[0], ID: segs[1], Relationship: segs[2]}, true
	case 4:
		if segs[2] != "relationships" {
			return Route{}, false
		}
		return Route{Shape: ShapeRelationship, Type: segs[0], ID: segs[1], Relationship: segs[3]}, true
	}
	return Route{}, false
}
