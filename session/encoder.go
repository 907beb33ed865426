package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Binary layout, version 1. Fixed-width fields come first so the store's Lua
// scripts can patch them in place without decoding the whole record:
//
//	offset 0      version (1 byte)
//	offset 1      active flag (1 byte)
//	offset 2-9    createdAt, int64 big-endian
//	offset 10-17  lastSeenAt, int64 big-endian
//	offset 18-25  expiresAt, int64 big-endian
//	then          sessionID, userID, accessTokenID, ip, userAgent
//	              each as uint16 big-endian length + bytes
const recordVersion = 1

var errCorruptRecord = errors.New("corrupt session record")

func encodeSession(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	if s.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	var fixed [24]byte
	binary.BigEndian.PutUint64(fixed[0:8], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(fixed[8:16], uint64(s.LastSeenAt))
	binary.BigEndian.PutUint64(fixed[16:24], uint64(s.ExpiresAt))
	buf.Write(fixed[:])

	for _, field := range []string{s.SessionID, s.UserID, s.AccessTokenID, s.IP, s.UserAgent} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errCorruptRecord, version)
	}

	active, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	var fixed [24]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errCorruptRecord
	}

	s := &Session{
		Active:     active == 1,
		CreatedAt:  int64(binary.BigEndian.Uint64(fixed[0:8])),
		LastSeenAt: int64(binary.BigEndian.Uint64(fixed[8:16])),
		ExpiresAt:  int64(binary.BigEndian.Uint64(fixed[16:24])),
	}

	for _, dst := range []*string{&s.SessionID, &s.UserID, &s.AccessTokenID, &s.IP, &s.UserAgent} {
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", errCorruptRecord)
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("session field too long: %d bytes", len(s))
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", errCorruptRecord
	}
	n := int(binary.BigEndian.Uint16(l[:]))
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errCorruptRecord
	}
	return string(b), nil
}
