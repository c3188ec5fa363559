package mapgraph

import "errors"

// ErrParentNotFound is returned by CreateDynamicSubLocation when the parent
// region id does not exist in the graph.
var ErrParentNotFound = errors.New("mapgraph: parent node not found")

// ErrNoGenerator is returned by CreateDynamicSubLocation when no
// DynamicLocationGenerator was supplied; unlike route-concept generation
// there is no sensible offline fallback for a brand-new location.
var ErrNoGenerator = errors.New("mapgraph: no location generator configured")
