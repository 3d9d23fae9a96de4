package postgres

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/store"
)

func (d *DB) CreateStream(ctx context.Context, create *store.Stream) (*store.Stream, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	stmt := "INSERT INTO stream (id, chat_id, created_ts) VALUES (" + placeholders(3) + ")"
	if _, err := d.db.ExecContext(ctx, stmt, create.ID, create.ChatID, create.CreatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to create stream")
	}
	return create, nil
}

func (d *DB) ListStreams(ctx context.Context, find *store.FindStream) ([]*store.Stream, error) {
	// Ascending creation order; the seq sequence breaks ties for streams
	// created within the same second so "most recent" is always the last
	// element. Stream ids are random and carry no ordering.
	query := "SELECT id, chat_id, created_ts FROM stream WHERE chat_id = $1 ORDER BY created_ts ASC, seq ASC"
	rows, err := d.db.QueryContext(ctx, query, find.ChatID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list streams")
	}
	defer rows.Close()

	list := make([]*store.Stream, 0)
	for rows.Next() {
		stream := &store.Stream{}
		if err := rows.Scan(&stream.ID, &stream.ChatID, &stream.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan stream")
		}
		list = append(list, stream)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate streams")
	}

	return list, nil
}
