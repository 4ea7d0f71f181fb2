// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package bridge

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// key schema
var (
	delayedAccPrefix   = []byte("da") // delayedAccPrefix + uint64 big-endian -> hash
	sequencerAccPrefix = []byte("sa") // sequencerAccPrefix + uint64 big-endian -> hash
	delayedMsgPrefix   = []byte("dm") // delayedMsgPrefix + uint64 big-endian -> serialized message
	stateKey           = []byte("st") // counters
)

const msgCacheSize = 256

// Store persists the ledger in pebble. Accumulators are mirrored in memory by
// the Bridge; message bodies are read back through an LRU.
type Store struct {
	db       *pebble.DB
	msgCache *lru.Cache[uint64, *DelayedMessage]
}

type storedState struct {
	DelayedAccs              []common.Hash
	SequencerAccs            []common.Hash
	TotalDelayedMessagesRead uint64
	SubMessageCount          uint64
}

func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening ledger database")
	}
	cache, err := lru.New[uint64, *DelayedMessage](msgCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, msgCache: cache}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func uint64Key(prefix []byte, index uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], index)
	return key
}

func (s *Store) LoadState() (*storedState, error) {
	state := &storedState{}
	value, closer, err := s.db.Get(stateKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return state, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading ledger state")
	}
	if len(value) != 32 {
		_ = closer.Close()
		return nil, errors.Errorf("malformed ledger state of length %v", len(value))
	}
	delayedCount := binary.BigEndian.Uint64(value[0:8])
	seqCount := binary.BigEndian.Uint64(value[8:16])
	state.TotalDelayedMessagesRead = binary.BigEndian.Uint64(value[16:24])
	state.SubMessageCount = binary.BigEndian.Uint64(value[24:32])
	if err := closer.Close(); err != nil {
		return nil, err
	}

	state.DelayedAccs = make([]common.Hash, delayedCount)
	for i := uint64(0); i < delayedCount; i++ {
		if err := s.getHash(uint64Key(delayedAccPrefix, i), &state.DelayedAccs[i]); err != nil {
			return nil, err
		}
	}
	state.SequencerAccs = make([]common.Hash, seqCount)
	for i := uint64(0); i < seqCount; i++ {
		if err := s.getHash(uint64Key(sequencerAccPrefix, i), &state.SequencerAccs[i]); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (s *Store) getHash(key []byte, out *common.Hash) error {
	value, closer, err := s.db.Get(key)
	if err != nil {
		return errors.Wrapf(err, "reading ledger key %x", key)
	}
	copy(out[:], value)
	return closer.Close()
}

func encodeState(delayedCount, seqCount, totalRead, subMsgCount uint64) []byte {
	state := make([]byte, 32)
	binary.BigEndian.PutUint64(state[0:8], delayedCount)
	binary.BigEndian.PutUint64(state[8:16], seqCount)
	binary.BigEndian.PutUint64(state[16:24], totalRead)
	binary.BigEndian.PutUint64(state[24:32], subMsgCount)
	return state
}

// AppendDelayed writes a delayed chain entry and its body in one batch. The
// caller passes counters as they will be after the append.
func (s *Store) AppendDelayed(index uint64, acc common.Hash, msg *DelayedMessage) error {
	serialized, err := msg.Serialize()
	if err != nil {
		return err
	}
	state, err := s.readStateRow()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(uint64Key(delayedAccPrefix, index), acc[:], nil); err != nil {
		return err
	}
	if err := batch.Set(uint64Key(delayedMsgPrefix, index), serialized, nil); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(state[0:8], index+1)
	if err := batch.Set(stateKey, state, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "committing delayed message")
	}
	s.msgCache.Add(index, msg)
	return nil
}

// delayedAppend is a delayed chain entry written as part of a larger commit.
type delayedAppend struct {
	index uint64
	acc   common.Hash
	msg   *DelayedMessage
}

// AppendSequencer writes a sequencer chain entry and the updated counters and,
// when report is non-nil, the batch spending report's delayed chain entry, all
// in one committed batch.
func (s *Store) AppendSequencer(index uint64, acc common.Hash, totalRead uint64, newMessageCount uint64, report *delayedAppend) error {
	state, err := s.readStateRow()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(uint64Key(sequencerAccPrefix, index), acc[:], nil); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(state[8:16], index+1)
	binary.BigEndian.PutUint64(state[16:24], totalRead)
	if newMessageCount > 0 {
		binary.BigEndian.PutUint64(state[24:32], newMessageCount)
	}
	if report != nil {
		serialized, err := report.msg.Serialize()
		if err != nil {
			return err
		}
		if err := batch.Set(uint64Key(delayedAccPrefix, report.index), report.acc[:], nil); err != nil {
			return err
		}
		if err := batch.Set(uint64Key(delayedMsgPrefix, report.index), serialized, nil); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(state[0:8], report.index+1)
	}
	if err := batch.Set(stateKey, state, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "committing sequencer batch")
	}
	if report != nil {
		s.msgCache.Add(report.index, report.msg)
	}
	return nil
}

func (s *Store) readStateRow() ([]byte, error) {
	value, closer, err := s.db.Get(stateKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return encodeState(0, 0, 0, 0), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading ledger state")
	}
	state := bytes.Clone(value)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	if len(state) != 32 {
		return nil, errors.Errorf("malformed ledger state of length %v", len(state))
	}
	return state, nil
}

func (s *Store) GetDelayedMessage(index uint64) (*DelayedMessage, error) {
	if msg, ok := s.msgCache.Get(index); ok {
		return msg, nil
	}
	value, closer, err := s.db.Get(uint64Key(delayedMsgPrefix, index))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrUnknownDelayedMessage
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading delayed message %v", index)
	}
	msg, parseErr := ParseDelayedMessage(bytes.NewReader(value))
	if closeErr := closer.Close(); closeErr != nil {
		return nil, closeErr
	}
	if parseErr != nil {
		return nil, parseErr
	}
	s.msgCache.Add(index, msg)
	return msg, nil
}
