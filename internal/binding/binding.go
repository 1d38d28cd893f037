// Package binding implements the pattern-binding hook: translating a
// promoted oscillator attractor into a symbolic ELFIN concept by hashing
// its signature and looking the hash up in a shared concept graph.
package binding

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/fenilsonani/psitrajectory/internal/psierr"
)

// ConceptID identifies a node in the concept graph.
type ConceptID uint64

// ConceptNode is one node in the concept graph: an opaque identifier plus
// free-form string metadata (symbol name, unit, provenance).
type ConceptNode struct {
	ID       ConceptID
	Metadata map[string]string
}

// ConceptGraph holds promoted attractor nodes and the hash table used to
// bind them to externally-imported ELFIN symbols.
type ConceptGraph struct {
	mu         sync.RWMutex
	nodes      map[ConceptID]*ConceptNode
	hashLookup map[uint64]ConceptID
	nextID     ConceptID
}

// NewConceptGraph returns an empty concept graph.
func NewConceptGraph() *ConceptGraph {
	return &ConceptGraph{
		nodes:      make(map[ConceptID]*ConceptNode),
		hashLookup: make(map[uint64]ConceptID),
	}
}

var (
	globalOnce  sync.Once
	globalGraph *ConceptGraph
)

// Global returns the process-wide concept graph, created on first use.
func Global() *ConceptGraph {
	globalOnce.Do(func() {
		globalGraph = NewConceptGraph()
	})
	return globalGraph
}

// CreateNode allocates a fresh node with a newly assigned ID.
func (g *ConceptGraph) CreateNode() ConceptID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.nodes[id] = &ConceptNode{ID: id, Metadata: make(map[string]string)}
	return id
}

// EnsureNode returns the node for idStr, creating it if absent. If idStr
// parses as a decimal ConceptID it is used directly; otherwise idStr is
// hashed to derive a stable ID.
func (g *ConceptGraph) EnsureNode(idStr string) ConceptID {
	var id ConceptID
	if parsed, ok := parseConceptID(idStr); ok {
		id = parsed
	} else {
		id = ConceptID(xxhash.Sum64String(idStr))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = &ConceptNode{ID: id, Metadata: make(map[string]string)}
	}
	return id
}

func parseConceptID(s string) (ConceptID, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ConceptID(v), true
}

// SetMeta sets a metadata key on an existing node.
func (g *ConceptGraph) SetMeta(id ConceptID, key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return psierr.New(psierr.InvalidParameter, "concept node not found")
	}
	node.Metadata[key] = value
	return nil
}

// GetMeta returns a metadata value and whether it was present.
func (g *ConceptGraph) GetMeta(id ConceptID, key string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return "", false
	}
	v, ok := node.Metadata[key]
	return v, ok
}

// LookupHash returns the node bound to hash, if any.
func (g *ConceptGraph) LookupHash(hash uint64) (ConceptID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.hashLookup[hash]
	return id, ok
}

// RegisterHash binds hash to id for future lookups.
func (g *ConceptGraph) RegisterHash(hash uint64, id ConceptID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hashLookup[hash] = id
}

// Merge copies dst's metadata with src's metadata layered on top (src wins
// on key collision), leaving src unchanged.
func (g *ConceptGraph) Merge(dst, src ConceptID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dstNode, ok := g.nodes[dst]
	if !ok {
		return psierr.New(psierr.InvalidParameter, "merge destination node not found")
	}
	srcNode, ok := g.nodes[src]
	if !ok {
		return psierr.New(psierr.InvalidParameter, "merge source node not found")
	}

	for k, v := range srcNode.Metadata {
		dstNode.Metadata[k] = v
	}
	return nil
}

type elfinSymbol struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Unit string `json:"unit"`
}

type elfinFile struct {
	Symbols []elfinSymbol `json:"symbols"`
}

// ImportELFIN loads a JSON file of {name, hash, unit} symbol records,
// registering each as a node with its hex hash bound for lookup. It
// returns the number of symbols imported.
func (g *ConceptGraph) ImportELFIN(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, psierr.Wrap(psierr.Io, "read ELFIN symbol file", err)
	}

	var parsed elfinFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, psierr.Wrap(psierr.InvalidFormat, "parse ELFIN symbol file", err)
	}

	count := 0
	for _, sym := range parsed.Symbols {
		if sym.Name == "" || sym.Hash == "" {
			continue
		}
		nodeID := g.EnsureNode(sym.Hash)
		_ = g.SetMeta(nodeID, "elfin_name", sym.Name)
		_ = g.SetMeta(nodeID, "elfin_unit", sym.Unit)

		var hash uint64
		if _, err := fmt.Sscanf(sym.Hash, "%x", &hash); err == nil {
			g.RegisterHash(hash, nodeID)
		}
		count++
	}
	return count, nil
}

// SignatureHash hashes an attractor signature the same way regardless of
// caller: format each component to 3 decimal places, join, and take a
// stable 64-bit hash. This replaces the original implementation's
// SipHash-named-but-DefaultHasher-bodied helper with an honestly named,
// genuinely stable hash; it is exported so callers populating the concept
// graph from outside this package (e.g. an ELFIN symbol importer keyed by
// signature rather than hex hash) can register under the same hash
// TryBindToElfin will compute.
func SignatureHash(signature []float64) uint64 {
	buf := make([]byte, 0, len(signature)*8)
	for _, v := range signature {
		buf = fmt.Appendf(buf, "%.3f,", v)
	}
	return xxhash.Sum64(buf)
}

// TryBindToElfin hashes signature and, on a hash-table hit, merges the
// promoted node with the matched ELFIN symbol and tags it source=ELFIN.
// It returns whether a bind occurred; a miss is a silent no-op, not an
// error.
func (g *ConceptGraph) TryBindToElfin(node ConceptID, signature []float64) bool {
	h := SignatureHash(signature)
	elfinID, ok := g.LookupHash(h)
	if !ok {
		return false
	}
	if err := g.Merge(node, elfinID); err != nil {
		return false
	}
	_ = g.SetMeta(node, "source", "ELFIN")
	return true
}

// OnAttractorPromoted is the hook called when an attractor is promoted to
// a concept node; it attempts the ELFIN bind and returns whether it
// succeeded, leaving logging/telemetry to the caller.
func OnAttractorPromoted(node ConceptID, signature []float64) bool {
	return Global().TryBindToElfin(node, signature)
}
