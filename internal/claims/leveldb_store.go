package claims

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const levelDBKeyPrefix = "claim:"

// LevelDBStore keeps claim records in an embedded LevelDB database so they
// survive restarts of a single relay instance.
type LevelDBStore struct {
	db *leveldb.DB
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	if path == "" {
		return nil, errors.New("leveldb path is empty")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}

func (l *LevelDBStore) LastClaim(_ context.Context, address common.Address) (time.Time, bool, error) {
	raw, err := l.db.Get(levelDBKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if len(raw) != 8 {
		return time.Time{}, false, fmt.Errorf("corrupt claim record for %s", address.Hex())
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw))), true, nil
}

func (l *LevelDBStore) RecordClaim(_ context.Context, address common.Address, at time.Time) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(at.UnixNano()))
	return l.db.Put(levelDBKey(address), raw[:], &opt.WriteOptions{Sync: true})
}

func levelDBKey(address common.Address) []byte {
	return append([]byte(levelDBKeyPrefix), address.Bytes()...)
}
