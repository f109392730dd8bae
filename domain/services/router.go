package services

import (
	"context"
)

// Router fans a processed photo out to one directory per resolved person.
type Router interface {
	// Destinations is pure: same ids in any order give the same paths in the same order.
	Destinations(personIDs []uint, fileName string) []string
	Route(ctx context.Context, fileName string, personIDs []uint, source string) ([]string, error)
	// RouteFromStore recomputes the person set from Face rows and copies again.
	RouteFromStore(ctx context.Context, photoID uint) ([]string, error)
}
