package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/store"
)

func (d *DB) UpsertChat(ctx context.Context, upsert *store.UpsertChat) (*store.Chat, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	createdTs := now

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT user_id, created_ts FROM chat WHERE id = $1 FOR UPDATE", upsert.ChatID).Scan(&owner, &createdTs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stmt := "INSERT INTO chat (id, user_id, title, created_ts, updated_ts) VALUES (" + placeholders(5) + ")"
		if _, err := tx.ExecContext(ctx, stmt, upsert.ChatID, upsert.UserID, upsert.Title, now, now); err != nil {
			return nil, errors.Wrap(err, "failed to create chat")
		}
	case err != nil:
		return nil, errors.Wrap(err, "failed to find chat")
	default:
		if owner != upsert.UserID {
			return nil, store.ErrOwnershipConflict
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM message WHERE chat_id = $1", upsert.ChatID); err != nil {
			return nil, errors.Wrap(err, "failed to delete chat messages")
		}
		if _, err := tx.ExecContext(ctx, "UPDATE chat SET title = $1, updated_ts = $2 WHERE id = $3", upsert.Title, now, upsert.ChatID); err != nil {
			return nil, errors.Wrap(err, "failed to update chat")
		}
	}

	for position, message := range upsert.Messages {
		parts, err := marshalParts(message.Parts)
		if err != nil {
			return nil, err
		}
		stmt := "INSERT INTO message (chat_id, role, parts, position, created_ts) VALUES (" + placeholders(5) + ")"
		if _, err := tx.ExecContext(ctx, stmt, upsert.ChatID, string(message.Role), parts, position, now); err != nil {
			return nil, errors.Wrap(err, "failed to insert message")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}

	return &store.Chat{
		ID:        upsert.ChatID,
		UserID:    upsert.UserID,
		Title:     upsert.Title,
		CreatedTs: createdTs,
		UpdatedTs: now,
	}, nil
}

func (d *DB) GetChat(ctx context.Context, find *store.FindChat) (*store.Chat, error) {
	where, args := []string{"id = $1"}, []any{find.ChatID}
	if find.UserID != "" {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, find.UserID)
	}

	query := "SELECT id, user_id, title, created_ts, updated_ts FROM chat WHERE " + strings.Join(where, " AND ")
	chat := &store.Chat{}
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedTs, &chat.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chat")
	}

	messages, err := d.listMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.Messages = messages

	return chat, nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	query := "SELECT id, user_id, title, created_ts, updated_ts FROM chat WHERE user_id = $1 ORDER BY updated_ts DESC"
	rows, err := d.db.QueryContext(ctx, query, find.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	defer rows.Close()

	list := make([]*store.Chat, 0)
	for rows.Next() {
		chat := &store.Chat{}
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedTs, &chat.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat")
		}
		list = append(list, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chats")
	}

	return list, nil
}

func (d *DB) listMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	query := "SELECT id, chat_id, role, parts, position, created_ts FROM message WHERE chat_id = $1 ORDER BY position ASC"
	rows, err := d.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		message := &store.Message{}
		var role, parts string
		if err := rows.Scan(&message.ID, &message.ChatID, &role, &parts, &message.Position, &message.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		message.Role = store.Role(role)
		if err := json.Unmarshal([]byte(parts), &message.Parts); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal message parts for message %d", message.ID)
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	return list, nil
}

func marshalParts(parts []store.MessagePart) (string, error) {
	if parts == nil {
		parts = []store.MessagePart{}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal message parts")
	}
	return string(raw), nil
}
