package backend

// Fixed store names. These names are permanent: backend adapters key
// physical layout and tuning off them, so changing any of them breaks
// every existing deployment.
const (
	// EdgeStoreName holds all edges and properties.
	EdgeStoreName = "edgestore"

	// VertexIndexStoreName holds the inverted index from attribute value
	// to vertex.
	VertexIndexStoreName = "vertexindex"

	// EdgeIndexStoreName holds the derived, rebuildable edge index.
	EdgeIndexStoreName = "edgeindex"

	// IDStoreName holds identifier block bookkeeping.
	IDStoreName = "thicket_ids"

	// LockStoreSuffix is appended to a store's name to derive its lock
	// bookkeeping store.
	LockStoreSuffix = "_lock_"
)

// Metrics naming.
const (
	metricsPrefix = "thicket."
	mergedMetrics = "stores"
)

// StaticKeyLengths pins the fixed key widths of the named stores, in
// bytes. Stores absent from this map use variable-length keys.
var StaticKeyLengths = map[string]int{
	EdgeStoreName:                   8,
	EdgeStoreName + LockStoreSuffix: 8,
	IDStoreName:                     4,
}
