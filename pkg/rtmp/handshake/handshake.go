// Package handshake drives the RTMP version-3 plain-text handshake
// (C0/C1/C2 against S0/S1/S2) for a publishing client. No encrypted
// handshake variant is implemented (spec.md Non-goals: RTMPE/RTMPS/RTMPT).
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	rtmperrors "github.com/castflow/rtmpub/pkg/errors"
)

// Version is the RTMP handshake version byte this client sends and expects.
const Version byte = 3

// Size is the size in bytes of C1/S1/C2/S2.
const Size = 1536

// Do performs the client side of the handshake over rw: writes C0+C1 as a
// single send, reads S0+S1, builds C2 as an echo of S1 with the timestamp
// field replaced by the elapsed delta since the send started, writes C2,
// then reads and discards S2 (its echo is not validated — spec.md §9).
func Do(rw io.ReadWriter) error {
	start := time.Now()

	c1 := make([]byte, Size)
	binary.BigEndian.PutUint32(c1[0:4], uint32(start.Unix()))
	binary.BigEndian.PutUint32(c1[4:8], 0)
	if _, err := rand.Read(c1[8:]); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeHandshakeFailed, "failed to generate C1 random data", err)
	}

	c0c1 := make([]byte, 1+Size)
	c0c1[0] = Version
	copy(c0c1[1:], c1)
	if _, err := rw.Write(c0c1); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeHandshakeFailed, "failed to write C0+C1", err)
	}

	s0 := make([]byte, 1)
	if _, err := io.ReadFull(rw, s0); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeHandshakeFailed, "failed to read S0", err)
	}
	if s0[0] != Version {
		return rtmperrors.New(rtmperrors.ErrCodeProtocolError, fmt.Sprintf("unsupported RTMP version from peer: %d", s0[0]))
	}

	s1 := make([]byte, Size)
	if _, err := io.ReadFull(rw, s1); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeHandshakeFailed, "failed to read S1", err)
	}

	c2 := make([]byte, Size)
	copy(c2, s1)
	elapsed := uint32(time.Since(start).Milliseconds())
	binary.BigEndian.PutUint32(c2[0:4], elapsed)
	if _, err := rw.Write(c2); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeHandshakeFailed, "failed to write C2", err)
	}

	s2 := make([]byte, Size)
	if _, err := io.ReadFull(rw, s2); err != nil {
		return rtmperrors.Wrap(rtmperrors.ErrCodeHandshakeFailed, "failed to read S2", err)
	}

	return nil
}
