package wal

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/meritberry/types"
)

// Errors
var (
	ErrWALClosed    = errors.New("WAL is closed")
	ErrWALCorrupted = errors.New("WAL is corrupted")
	ErrWALNotFound  = errors.New("WAL file not found")
	ErrInvalidSeq   = errors.New("invalid sequence in WAL")
)

// MessageType identifies the type of WAL message
type MessageType uint8

const (
	MsgTypeUnknown MessageType = iota
	// MsgTypeGenesis is the first record of a fresh log. Data is the
	// genesis hash and Seq is 0.
	MsgTypeGenesis
	// MsgTypeTx carries a transaction that passed every guard. It is only
	// durable once the matching commit follows.
	MsgTypeTx
	// MsgTypeCommit marks the transaction at Seq as applied. Data is the
	// app hash after applying it.
	MsgTypeCommit
	// MsgTypeSnapshot records that state up to Seq was snapshotted.
	MsgTypeSnapshot
)

// String returns the message type name
func (t MessageType) String() string {
	switch t {
	case MsgTypeGenesis:
		return "genesis"
	case MsgTypeTx:
		return "tx"
	case MsgTypeCommit:
		return "commit"
	case MsgTypeSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Message represents a WAL message with metadata
type Message struct {
	Type MessageType `cbor:"1,keyasint"`
	Seq  uint64      `cbor:"2,keyasint"`
	Data []byte      `cbor:"3,keyasint"`
}

// Marshal serializes the message
func (m *Message) Marshal() ([]byte, error) {
	return types.Marshal(m)
}

// Unmarshal deserializes the message
func (m *Message) Unmarshal(data []byte) error {
	return types.Unmarshal(data, m)
}

// WAL interface for write-ahead logging
type WAL interface {
	// Write writes a message to the WAL
	Write(msg *Message) error

	// WriteSync writes a message and ensures it's synced to disk
	WriteSync(msg *Message) error

	// FlushAndSync flushes and syncs all pending writes
	FlushAndSync() error

	// SearchForCommit searches for the commit of seq in the WAL.
	// Returns a Reader positioned after the commit message, or false if not found
	SearchForCommit(seq uint64) (Reader, bool, error)

	// OpenReader returns a Reader over every retained message, oldest first
	OpenReader() (Reader, error)

	// Checkpoint drops segments made redundant by a snapshot at seq
	Checkpoint(seq uint64) error

	// Start starts the WAL
	Start() error

	// Stop stops the WAL
	Stop() error

	// Group returns the current WAL group (for rotation)
	Group() *Group
}

// Reader interface for reading from WAL
type Reader interface {
	// Read reads the next message from the WAL
	Read() (*Message, error)

	// Close closes the reader
	Close() error
}

// Group represents a group of WAL files (for rotation)
type Group struct {
	Dir      string
	Prefix   string
	MaxSize  int64
	MinIndex int
	MaxIndex int
}

// NewGenesisMessage creates the opening record of a log
func NewGenesisMessage(genesisHash types.Hash) *Message {
	return &Message{
		Type: MsgTypeGenesis,
		Data: types.CopyHash(&genesisHash).Data,
	}
}

// NewTxMessage creates a WAL message for a transaction
func NewTxMessage(seq uint64, tx *types.Tx) (*Message, error) {
	data, err := types.Marshal(tx)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type: MsgTypeTx,
		Seq:  seq,
		Data: data,
	}, nil
}

// NewCommitMessage creates a WAL message marking seq as applied
func NewCommitMessage(seq uint64, appHash types.Hash) *Message {
	return &Message{
		Type: MsgTypeCommit,
		Seq:  seq,
		Data: types.CopyHash(&appHash).Data,
	}
}

// NewSnapshotMessage creates a WAL message recording a snapshot at seq
func NewSnapshotMessage(seq uint64) *Message {
	return &Message{
		Type: MsgTypeSnapshot,
		Seq:  seq,
	}
}

// DecodeTx decodes a transaction from WAL message data
func DecodeTx(data []byte) (*types.Tx, error) {
	tx := &types.Tx{}
	if err := types.Unmarshal(data, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// DecodeHash decodes the hash carried by a genesis or commit message
func DecodeHash(data []byte) (types.Hash, error) {
	h, err := types.NewHash(data)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: %v", ErrWALCorrupted, err)
	}
	return h, nil
}

// NopWAL is a no-op WAL implementation for testing
type NopWAL struct{}

func (w *NopWAL) Write(msg *Message) error                         { return nil }
func (w *NopWAL) WriteSync(msg *Message) error                     { return nil }
func (w *NopWAL) FlushAndSync() error                              { return nil }
func (w *NopWAL) SearchForCommit(seq uint64) (Reader, bool, error) { return nil, false, nil }
func (w *NopWAL) OpenReader() (Reader, error)                      { return &NopReader{}, nil }
func (w *NopWAL) Checkpoint(seq uint64) error                      { return nil }
func (w *NopWAL) Start() error                                     { return nil }
func (w *NopWAL) Stop() error                                      { return nil }
func (w *NopWAL) Group() *Group                                    { return nil }

// Ensure NopWAL implements WAL
var _ WAL = (*NopWAL)(nil)

// NopReader is a no-op reader
type NopReader struct{}

func (r *NopReader) Read() (*Message, error) { return nil, io.EOF }
func (r *NopReader) Close() error            { return nil }

var _ Reader = (*NopReader)(nil)
