// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package inbox

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// KeysetInfo records a registered data-availability keyset. Invalidated keysets
// stay around so "when was this valid" remains answerable for old batches.
type KeysetInfo struct {
	IsValid       bool
	CreationBlock uint64
}

// SetValidKeyset registers a keyset under the hash of its serialized bytes.
// Owner only.
func (si *SequencerInbox) SetValidKeyset(env *BlockContext, keysetBytes []byte) (common.Hash, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwner(env.Caller); err != nil {
		return common.Hash{}, err
	}
	ksHash := crypto.Keccak256Hash(keysetBytes)
	if info, ok := si.keysets[ksHash]; ok && info.IsValid {
		return common.Hash{}, ErrKeysetAlreadyValid
	}
	si.keysets[ksHash] = &KeysetInfo{IsValid: true, CreationBlock: env.BlockNumber}
	log.Info("keyset registered", "keysetHash", ksHash, "creationBlock", env.BlockNumber)
	return ksHash, nil
}

// InvalidateKeysetHash marks a keyset invalid without deleting it. Owner only.
func (si *SequencerInbox) InvalidateKeysetHash(env *BlockContext, ksHash common.Hash) error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.requireOwner(env.Caller); err != nil {
		return err
	}
	info, ok := si.keysets[ksHash]
	if !ok || !info.IsValid {
		return ErrNoSuchKeyset
	}
	info.IsValid = false
	log.Info("keyset invalidated", "keysetHash", ksHash)
	return nil
}

func (si *SequencerInbox) isValidKeysetHash(ksHash common.Hash) bool {
	info, ok := si.keysets[ksHash]
	return ok && info.IsValid
}

func (si *SequencerInbox) IsValidKeysetHash(ksHash common.Hash) bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.isValidKeysetHash(ksHash)
}

// GetKeysetCreationBlock returns when a keyset (valid or since invalidated)
// was registered.
func (si *SequencerInbox) GetKeysetCreationBlock(ksHash common.Hash) (uint64, error) {
	si.mu.Lock()
	defer si.mu.Unlock()
	info, ok := si.keysets[ksHash]
	if !ok {
		return 0, ErrNoSuchKeyset
	}
	return info.CreationBlock, nil
}
