package store

// Stream records one generation attempt against a chat. Rows are append-only:
// staleness is handled by the broker's in-memory expiry, never by deletion, so
// a resume request can always discover the most recent attempt.
type Stream struct {
	ID        string
	ChatID    string
	CreatedTs int64
}

type FindStream struct {
	ChatID string
}
