package index

// CardIndex defines the interface for card indexing operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type CardIndex interface {
	UpsertCard(row CardRow, body string) error
	DeleteCard(path string) error
	GetChecksum(path string) (string, error)
	GetCard(path string) (*CardRow, error)
	ListCards(limit, offset int, tag string) ([]CardRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies CardIndex at compile time.
var _ CardIndex = (*DB)(nil)
