package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	ApplyLatestSchema(ctx context.Context) error
	GetSchemaVersion(ctx context.Context) (string, error)
	SetSchemaVersion(ctx context.Context, version string) error

	UpsertChat(ctx context.Context, upsert *UpsertChat) (*Chat, error)
	// GetChat returns (nil, nil) when no chat matches the find.
	GetChat(ctx context.Context, find *FindChat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)

	CreateStream(ctx context.Context, create *Stream) (*Stream, error)
	ListStreams(ctx context.Context, find *FindStream) ([]*Stream, error)
}
