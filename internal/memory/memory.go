// Package memory implements the core's side of the memory.search RPC. The
// embeddings/hybrid-search indexer that actually populates memory.db after
// the fact is an out-of-scope external component; this package only
// defines the result shape so the RPC has somewhere real to return from
// once that indexer exists, rather than being a
// hard-coded −32601 the client has to special-case.
package memory

// Result is one memory.search hit. The external indexer is what would
// populate a real score/snippet; until it is wired up, Search always
// returns an empty slice.
type Result struct {
	SessionKey string  `json:"sessionKey"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Searcher is implemented by whatever indexer memory.embeddingModel
// eventually names. No core component implements it today.
type Searcher interface {
	Search(query string, k int) ([]Result, error)
}

// NullSearcher is the Searcher every gateway process uses today: it
// always returns zero results, so memory.search is well-defined rather
// than unimplemented.
type NullSearcher struct{}

func (NullSearcher) Search(query string, k int) ([]Result, error) {
	return nil, nil
}
