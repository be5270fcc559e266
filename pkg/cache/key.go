package cache

import (
	"strings"

	"github.com/Sternrassler/listing-price-proxy/pkg/listing"
)

// DefaultNamespace prefixes every listing cache key.
const DefaultNamespace = "listing"

// Key generates the store key for a listing.
// Format: namespace:id
//
// Example:
//
//	listing:826425463
func Key(namespace string, id listing.ID) string {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		return string(id)
	}
	return namespace + ":" + string(id)
}
