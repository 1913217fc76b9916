package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const recordFormatVersion = 1

var errInvalidRecord = errors.New("invalid session record")

type record struct {
	UserID    string
	CreatedAt int64
	ExpiresAt int64
}

// Encode serializes the fields persisted for a session. The identifier is not
// part of the record.
func Encode(s *Session) ([]byte, error) {
	if len(s.UserID) == 0 || len(s.UserID) > 0xffff {
		return nil, errors.New("session user id length out of range")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordFormatVersion)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(s.UserID)
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.Unix()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. The returned Session has no ID.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errInvalidRecord
	}
	if version != recordFormatVersion {
		return nil, errInvalidRecord
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, errInvalidRecord
	}
	if userLen == 0 {
		return nil, errInvalidRecord
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, errInvalidRecord
	}

	var rec record
	rec.UserID = string(userID)
	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, errInvalidRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, errInvalidRecord
	}
	if reader.Len() != 0 {
		return nil, errInvalidRecord
	}

	return &Session{
		UserID:    rec.UserID,
		CreatedAt: time.Unix(rec.CreatedAt, 0),
		ExpiresAt: time.Unix(rec.ExpiresAt, 0),
	}, nil
}
