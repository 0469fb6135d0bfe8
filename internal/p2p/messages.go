// Package p2p provides message serialization for network communication.
package p2p

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/shieldedpool/core/pkg/types"
)

// Message types.
const (
	MsgTypeDeposit         uint8 = 0x01
	MsgTypePrivateTransfer uint8 = 0x02
	MsgTypeWithdrawal      uint8 = 0x03
	MsgTypeEncryptedNote   uint8 = 0x04
	MsgTypeStatus          uint8 = 0x20
	MsgTypePing            uint8 = 0x30
	MsgTypePong            uint8 = 0x31
)

// Message errors.
var (
	ErrInvalidMessageType = errors.New("p2p: invalid message type")
	ErrMessageTooLarge    = errors.New("p2p: message too large")
	ErrStatusTooShort     = errors.New("p2p: status message shorter than the fixed header")
)

// MaxMessageSize is the maximum size of a network message.
const MaxMessageSize = 32 * 1024 * 1024 // 32 MB

// Message is the wire envelope every gossiped payload travels in: a type
// tag and a length-prefixed body.
type Message struct {
	Type    uint8
	Payload []byte
}

// StatusMessage exchanges sync-cursor information between peers so a
// newly-connected peer can tell who is ahead (spec §4.7 "peers exchange
// their current cursor").
type StatusMessage struct {
	Version       uint32
	NetworkID     uint32
	SyncedBlock   uint64
	CurrentRoot   types.Hash
}

// Encode serializes a message for network transmission.
func (m *Message) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, m.Type); err != nil {
		return err
	}
	payloadLen := uint32(len(m.Payload))
	if err := binary.Write(w, binary.BigEndian, payloadLen); err != nil {
		return err
	}
	_, err := w.Write(m.Payload)
	return err
}

// Decode deserializes a message from network data.
func (m *Message) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.BigEndian, &m.Type); err != nil {
		return err
	}
	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return err
	}
	if payloadLen > MaxMessageSize {
		return ErrMessageTooLarge
	}
	m.Payload = make([]byte, payloadLen)
	_, err := io.ReadFull(r, m.Payload)
	return err
}

// EncodeDeposit serializes a DepositEvent for gossip.
func EncodeDeposit(ev *types.DepositEvent) []byte {
	buf := make([]byte, 0, 8+4+types.HashSize+8+8)
	buf = binary.BigEndian.AppendUint64(buf, ev.ID.BlockNumber)
	buf = binary.BigEndian.AppendUint32(buf, ev.ID.LogIndex)
	buf = append(buf, ev.Commitment[:]...)
	buf = binary.BigEndian.AppendUint64(buf, ev.Amount)
	buf = binary.BigEndian.AppendUint64(buf, ev.LeafIndex)
	buf = binary.BigEndian.AppendUint64(buf, ev.Timestamp)
	return buf
}

// DecodeDeposit deserializes a DepositEvent.
func DecodeDeposit(data []byte) (*types.DepositEvent, error) {
	const size = 8 + 4 + types.HashSize + 8 + 8 + 8
	if len(data) != size {
		return nil, ErrInvalidMessageType
	}
	ev := &types.DepositEvent{
		ID: types.EventID{
			BlockNumber: binary.BigEndian.Uint64(data[0:8]),
			LogIndex:    binary.BigEndian.Uint32(data[8:12]),
		},
	}
	copy(ev.Commitment[:], data[12:12+types.HashSize])
	off := 12 + types.HashSize
	ev.Amount = binary.BigEndian.Uint64(data[off : off+8])
	ev.LeafIndex = binary.BigEndian.Uint64(data[off+8 : off+16])
	ev.Timestamp = binary.BigEndian.Uint64(data[off+16 : off+24])
	return ev, nil
}

// EncodePrivateTransfer serializes a PrivateTransferEvent for gossip.
func EncodePrivateTransfer(ev *types.PrivateTransferEvent) []byte {
	buf := make([]byte, 0, 8+4+4*types.HashSize+8)
	buf = binary.BigEndian.AppendUint64(buf, ev.ID.BlockNumber)
	buf = binary.BigEndian.AppendUint32(buf, ev.ID.LogIndex)
	buf = append(buf, ev.Nullifier1[:]...)
	buf = append(buf, ev.Nullifier2[:]...)
	buf = append(buf, ev.OutCommitment1[:]...)
	buf = append(buf, ev.OutCommitment2[:]...)
	buf = binary.BigEndian.AppendUint64(buf, ev.Timestamp)
	return buf
}

// DecodePrivateTransfer deserializes a PrivateTransferEvent.
func DecodePrivateTransfer(data []byte) (*types.PrivateTransferEvent, error) {
	const size = 8 + 4 + 4*types.HashSize + 8
	if len(data) != size {
		return nil, ErrInvalidMessageType
	}
	ev := &types.PrivateTransferEvent{
		ID: types.EventID{
			BlockNumber: binary.BigEndian.Uint64(data[0:8]),
			LogIndex:    binary.BigEndian.Uint32(data[8:12]),
		},
	}
	off := 12
	copy(ev.Nullifier1[:], data[off:off+types.HashSize])
	off += types.HashSize
	copy(ev.Nullifier2[:], data[off:off+types.HashSize])
	off += types.HashSize
	copy(ev.OutCommitment1[:], data[off:off+types.HashSize])
	off += types.HashSize
	copy(ev.OutCommitment2[:], data[off:off+types.HashSize])
	off += types.HashSize
	ev.Timestamp = binary.BigEndian.Uint64(data[off : off+8])
	return ev, nil
}

// EncodeWithdrawal serializes a WithdrawalEvent for gossip.
func EncodeWithdrawal(ev *types.WithdrawalEvent) []byte {
	buf := make([]byte, 0, 8+4+types.HashSize+types.AddressSize+8+8)
	buf = binary.BigEndian.AppendUint64(buf, ev.ID.BlockNumber)
	buf = binary.BigEndian.AppendUint32(buf, ev.ID.LogIndex)
	buf = append(buf, ev.Nullifier[:]...)
	buf = append(buf, ev.Recipient[:]...)
	buf = binary.BigEndian.AppendUint64(buf, ev.Amount)
	buf = binary.BigEndian.AppendUint64(buf, ev.Timestamp)
	return buf
}

// DecodeWithdrawal deserializes a WithdrawalEvent.
func DecodeWithdrawal(data []byte) (*types.WithdrawalEvent, error) {
	const size = 8 + 4 + types.HashSize + types.AddressSize + 8 + 8
	if len(data) != size {
		return nil, ErrInvalidMessageType
	}
	ev := &types.WithdrawalEvent{
		ID: types.EventID{
			BlockNumber: binary.BigEndian.Uint64(data[0:8]),
			LogIndex:    binary.BigEndian.Uint32(data[8:12]),
		},
	}
	off := 12
	copy(ev.Nullifier[:], data[off:off+types.HashSize])
	off += types.HashSize
	copy(ev.Recipient[:], data[off:off+types.AddressSize])
	off += types.AddressSize
	ev.Amount = binary.BigEndian.Uint64(data[off : off+8])
	ev.Timestamp = binary.BigEndian.Uint64(data[off+8 : off+16])
	return ev, nil
}

// EncodeEncryptedNote serializes an EncryptedNoteEvent for gossip.
func EncodeEncryptedNote(ev *types.EncryptedNoteEvent) []byte {
	buf := make([]byte, 0, 8+4+types.HashSize+4+len(ev.EncryptedData))
	buf = binary.BigEndian.AppendUint64(buf, ev.ID.BlockNumber)
	buf = binary.BigEndian.AppendUint32(buf, ev.ID.LogIndex)
	buf = append(buf, ev.Commitment[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ev.EncryptedData)))
	buf = append(buf, ev.EncryptedData...)
	return buf
}

// DecodeEncryptedNote deserializes an EncryptedNoteEvent.
func DecodeEncryptedNote(data []byte) (*types.EncryptedNoteEvent, error) {
	const headerSize = 8 + 4 + types.HashSize + 4
	if len(data) < headerSize {
		return nil, ErrInvalidMessageType
	}
	ev := &types.EncryptedNoteEvent{
		ID: types.EventID{
			BlockNumber: binary.BigEndian.Uint64(data[0:8]),
			LogIndex:    binary.BigEndian.Uint32(data[8:12]),
		},
	}
	off := 12
	copy(ev.Commitment[:], data[off:off+types.HashSize])
	off += types.HashSize
	noteLen := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	if uint32(len(data)-off) != noteLen {
		return nil, ErrInvalidMessageType
	}
	ev.EncryptedData = append([]byte(nil), data[off:]...)
	return ev, nil
}

// EncodeStatus serializes a status message.
func EncodeStatus(status *StatusMessage) []byte {
	buf := make([]byte, 0, 4+4+8+types.HashSize)
	buf = binary.BigEndian.AppendUint32(buf, status.Version)
	buf = binary.BigEndian.AppendUint32(buf, status.NetworkID)
	buf = binary.BigEndian.AppendUint64(buf, status.SyncedBlock)
	buf = append(buf, status.CurrentRoot[:]...)
	return buf
}

// DecodeStatus deserializes a status message.
func DecodeStatus(data []byte) (*StatusMessage, error) {
	const size = 4 + 4 + 8 + types.HashSize
	if len(data) < size {
		return nil, ErrStatusTooShort
	}
	status := &StatusMessage{
		Version:     binary.BigEndian.Uint32(data[0:4]),
		NetworkID:   binary.BigEndian.Uint32(data[4:8]),
		SyncedBlock: binary.BigEndian.Uint64(data[8:16]),
	}
	copy(status.CurrentRoot[:], data[16:16+types.HashSize])
	return status, nil
}
