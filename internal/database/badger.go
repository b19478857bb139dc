package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-meet/internal/types"
)

// Key layout. Message keys embed the zero padded sequence id so a prefix scan
// returns them in store order.
const (
	sessionKey        = "session"
	messageKeyPrefix  = "msg:"
	presenceKeyPrefix = "presence:"
	typingKeyPrefix   = "typing:"
	counterKeyPrefix  = "counter:"
)

type BadgerMeetRepository struct {
	db *badger.DB
}

// OpenBadger opens a Badger database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string, logger zerolog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: logger.With().Str("component", "badger").Logger()})

	return badger.Open(opts)
}

func NewBadgerMeetRepository(db *badger.DB) *BadgerMeetRepository {
	return &BadgerMeetRepository{db: db}
}

func messageKey(seqId int64) []byte {
	return []byte(fmt.Sprintf("%s%019d", messageKeyPrefix, seqId))
}

func (r *BadgerMeetRepository) Ping(_ context.Context) error {
	if r.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

func (r *BadgerMeetRepository) Close() error {
	return r.db.Close()
}

func (r *BadgerMeetRepository) GetSession(_ context.Context) (types.Session, error) {
	var s types.Session
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(sessionKey), &s)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.Session{}, nil
	}
	return s, err
}

func (r *BadgerMeetRepository) SaveSession(_ context.Context, s types.Session) error {
	return r.setJSON([]byte(sessionKey), s)
}

func (r *BadgerMeetRepository) CreateMessage(_ context.Context, msg types.Message) error {
	return r.setJSON(messageKey(msg.SeqId), msg)
}

func (r *BadgerMeetRepository) ListMessages(_ context.Context) ([]types.Message, error) {
	var messages []types.Message
	err := r.scan(messageKeyPrefix, func(val []byte) error {
		var m types.Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		messages = append(messages, m)
		return nil
	})
	return messages, err
}

func (r *BadgerMeetRepository) DeleteMessages(_ context.Context) error {
	var keys [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(messageKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return wb.Flush()
}

func (r *BadgerMeetRepository) UpsertPresence(_ context.Context, p types.Presence) error {
	return r.setJSON([]byte(presenceKeyPrefix+p.Username), p)
}

func (r *BadgerMeetRepository) ListPresence(_ context.Context) ([]types.Presence, error) {
	var presence []types.Presence
	err := r.scan(presenceKeyPrefix, func(val []byte) error {
		var p types.Presence
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		presence = append(presence, p)
		return nil
	})
	return presence, err
}

func (r *BadgerMeetRepository) SetTyping(_ context.Context, t types.Typing) error {
	return r.setJSON([]byte(typingKeyPrefix+t.Username), t)
}

func (r *BadgerMeetRepository) ListTyping(_ context.Context) ([]types.Typing, error) {
	var typing []types.Typing
	err := r.scan(typingKeyPrefix, func(val []byte) error {
		var t types.Typing
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		typing = append(typing, t)
		return nil
	})
	return typing, err
}

func (r *BadgerMeetRepository) Increment(_ context.Context, name string, delta int64) (int64, error) {
	var value int64
	err := r.db.Update(func(txn *badger.Txn) error {
		key := []byte(counterKeyPrefix + name)

		value = 0
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				value, err = strconv.ParseInt(string(val), 10, 64)
				return err
			}); err != nil {
				return fmt.Errorf("read counter %q: %w", name, err)
			}
		}

		value += delta
		return txn.Set(key, []byte(strconv.FormatInt(value, 10)))
	})
	return value, err
}

func (r *BadgerMeetRepository) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (r *BadgerMeetRepository) scan(prefix string, fn func(val []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
