package assets

// Placement says where an inline fragment runs relative to the script it
// is attached to. It travels through the API as structured metadata, never
// recovered by re-parsing rendered HTML.
type Placement int

const (
	PlaceBefore Placement = iota
	PlaceAfter
)

// Extra is an inline code fragment attached to a registered script.
type Extra struct {
	Placement Placement
	Code      string
}

// Registry is the host pipeline's view of known script/style handles. The
// collector consults it to decide whether a collected reference is backed
// by a local file (bundleable) or external (left standalone).
type Registry interface {
	// Resolve maps a reference to a local filesystem path. ok is false
	// for external or unknown references.
	Resolve(ref string) (path string, ok bool)

	// Extras returns inline fragments attached to ref, in order.
	Extras(ref string) []Extra
}

// MapRegistry is a simple in-memory Registry for hosts and tests.
type MapRegistry struct {
	paths  map[string]string
	extras map[string][]Extra
}

func NewMapRegistry() *MapRegistry {
	return &MapRegistry{
		paths:  map[string]string{},
		extras: map[string][]Extra{},
	}
}

// Register associates a reference with its local file path.
func (r *MapRegistry) Register(ref, path string) { r.paths[ref] = path }

// AddExtra attaches an inline fragment to a registered reference.
func (r *MapRegistry) AddExtra(ref string, placement Placement, code string) {
	r.extras[ref] = append(r.extras[ref], Extra{Placement: placement, Code: code})
}

func (r *MapRegistry) Resolve(ref string) (string, bool) {
	p, ok := r.paths[ref]
	return p, ok
}

func (r *MapRegistry) Extras(ref string) []Extra { return r.extras[ref] }
