package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/easybali/travelchat/pkg/chat"
)

// SQLiteStore stores each conversation log as a single JSON blob, rewritten on
// every save. Logs are small and local, so write-through simplicity beats
// incremental appends.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("history store: db is nil")
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS chat_history (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		messages TEXT NOT NULL DEFAULT '[]',
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);`)
	return errors.Wrap(err, "init schema")
}

func (s *SQLiteStore) Load(ctx context.Context, key Key) ([]chat.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT messages FROM chat_history WHERE namespace=? AND key=?",
		string(key.Namespace), key.ID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	var msgs []chat.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		// Corrupt rows degrade to an empty log rather than poisoning the mount.
		log.Warn().Err(err).Str("component", "history").Str("namespace", string(key.Namespace)).Str("key", key.ID).Msg("corrupt stored history, treating as empty")
		return nil, nil
	}
	return msgs, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key Key, msgs []chat.Message) error {
	if key.Empty() {
		return errors.New("history store: empty key")
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_history(namespace, key, messages, updated_at_ms) VALUES(?,?,?,?)
		 ON CONFLICT(namespace, key) DO UPDATE SET messages=excluded.messages, updated_at_ms=excluded.updated_at_ms`,
		string(key.Namespace), key.ID, string(raw), time.Now().UnixMilli())
	return errors.Wrap(err, "save history")
}

func (s *SQLiteStore) Clear(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM chat_history WHERE namespace=? AND key=?",
		string(key.Namespace), key.ID)
	return errors.Wrap(err, "clear history")
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
