package p2p

import (
	"bytes"
	"testing"

	"github.com/shieldedpool/core/pkg/types"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{Type: MsgTypeDeposit, Payload: []byte("hello")}
	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Message
	if err := decoded.Decode(&buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != msg.Type || !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Fatalf("decoded = %+v, want %+v", decoded, msg)
	}
}

func TestMessageDecodeRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(MsgTypeDeposit)
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // payload length far above MaxMessageSize

	var decoded Message
	if err := decoded.Decode(&buf); err != ErrMessageTooLarge {
		t.Fatalf("Decode(oversized) = %v, want ErrMessageTooLarge", err)
	}
}

func TestDepositCodecRoundTrip(t *testing.T) {
	ev := &types.DepositEvent{
		ID:         types.EventID{BlockNumber: 10, LogIndex: 2},
		Commitment: types.HashFromBytes([]byte("commitment")),
		Amount:     1234,
		LeafIndex:  5,
		Timestamp:  999,
	}
	decoded, err := DecodeDeposit(EncodeDeposit(ev))
	if err != nil {
		t.Fatalf("DecodeDeposit: %v", err)
	}
	if *decoded != *ev {
		t.Fatalf("decoded = %+v, want %+v", decoded, ev)
	}
}

func TestPrivateTransferCodecRoundTrip(t *testing.T) {
	ev := &types.PrivateTransferEvent{
		ID:             types.EventID{BlockNumber: 3, LogIndex: 1},
		Nullifier1:     types.HashFromBytes([]byte("n1")),
		Nullifier2:     types.HashFromBytes([]byte("n2")),
		OutCommitment1: types.HashFromBytes([]byte("out1")),
		OutCommitment2: types.HashFromBytes([]byte("out2")),
		Timestamp:      42,
	}
	decoded, err := DecodePrivateTransfer(EncodePrivateTransfer(ev))
	if err != nil {
		t.Fatalf("DecodePrivateTransfer: %v", err)
	}
	if *decoded != *ev {
		t.Fatalf("decoded = %+v, want %+v", decoded, ev)
	}
}

func TestWithdrawalCodecRoundTrip(t *testing.T) {
	ev := &types.WithdrawalEvent{
		ID:        types.EventID{BlockNumber: 7, LogIndex: 0},
		Nullifier: types.HashFromBytes([]byte("nullifier")),
		Recipient: types.AddressFromBytes([]byte("recipient")),
		Amount:    555,
		Timestamp: 11,
	}
	decoded, err := DecodeWithdrawal(EncodeWithdrawal(ev))
	if err != nil {
		t.Fatalf("DecodeWithdrawal: %v", err)
	}
	if *decoded != *ev {
		t.Fatalf("decoded = %+v, want %+v", decoded, ev)
	}
}

func TestEncryptedNoteCodecRoundTrip(t *testing.T) {
	ev := &types.EncryptedNoteEvent{
		ID:            types.EventID{BlockNumber: 1, LogIndex: 4},
		Commitment:    types.HashFromBytes([]byte("commitment")),
		EncryptedData: []byte("some ciphertext bytes"),
	}
	decoded, err := DecodeEncryptedNote(EncodeEncryptedNote(ev))
	if err != nil {
		t.Fatalf("DecodeEncryptedNote: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Commitment != ev.Commitment || !bytes.Equal(decoded.EncryptedData, ev.EncryptedData) {
		t.Fatalf("decoded = %+v, want %+v", decoded, ev)
	}
}

func TestEncryptedNoteCodecRejectsTruncatedPayload(t *testing.T) {
	ev := &types.EncryptedNoteEvent{
		ID:            types.EventID{BlockNumber: 1, LogIndex: 0},
		Commitment:    types.HashFromBytes([]byte("c")),
		EncryptedData: []byte("ciphertext"),
	}
	encoded := EncodeEncryptedNote(ev)
	if _, err := DecodeEncryptedNote(encoded[:len(encoded)-1]); err != ErrInvalidMessageType {
		t.Fatalf("DecodeEncryptedNote(truncated) = %v, want ErrInvalidMessageType", err)
	}
}

func TestStatusCodecRoundTrip(t *testing.T) {
	status := &StatusMessage{
		Version:     1,
		NetworkID:   7,
		SyncedBlock: 100,
		CurrentRoot: types.HashFromBytes([]byte("root")),
	}
	decoded, err := DecodeStatus(EncodeStatus(status))
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if *decoded != *status {
		t.Fatalf("decoded = %+v, want %+v", decoded, status)
	}
}

func TestDecodeStatusRejectsTooShort(t *testing.T) {
	if _, err := DecodeStatus([]byte{1, 2, 3}); err != ErrStatusTooShort {
		t.Fatalf("DecodeStatus(short) = %v, want ErrStatusTooShort", err)
	}
}
