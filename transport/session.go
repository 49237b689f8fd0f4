package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// opusPayloadType is the dynamic RTP payload type for Opus (RFC 7587).
const opusPayloadType = 96

// Sink receives compressed audio frames from the pipeline. Implementations
// wrap the peer-connection layer, which lives outside this module.
type Sink interface {
	// Send delivers one encoded frame. sampleCount is the number of PCM
	// samples the frame represents, used to advance media timestamps.
	Send(ctx context.Context, frame []byte, sampleCount uint32) error
	// Close releases the sink.
	Close() error
}

// PacketWriter delivers serialized packets to the network. The excluded
// peer-connection layer provides an implementation.
type PacketWriter interface {
	WritePacket(data []byte) error
}

// SessionStats is a snapshot of a session's send counters.
type SessionStats struct {
	PacketsSent uint64
	BytesSent   uint64
	SendErrors  uint64
	LastSend    time.Time
}

// Session packetizes encoded audio frames as RTP and writes them to a
// PacketWriter, optionally sealing payloads through a SecureChannel. It
// implements Sink.
type Session struct {
	mu        sync.Mutex
	id        uuid.UUID
	ssrc      uint32
	seq       uint16
	timestamp uint32
	writer    PacketWriter
	channel   *SecureChannel
	closed    bool
	stats     SessionStats
}

// NewSession creates an audio send session. channel may be nil for
// unencrypted delivery, for example when the peer-connection layer already
// provides SRTP.
func NewSession(writer PacketWriter, channel *SecureChannel) (*Session, error) {
	if writer == nil {
		return nil, fmt.Errorf("packet writer cannot be nil")
	}

	ssrcBytes := make([]byte, 4)
	if _, err := rand.Read(ssrcBytes); err != nil {
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}

	s := &Session{
		id:      uuid.New(),
		ssrc:    binary.BigEndian.Uint32(ssrcBytes),
		writer:  writer,
		channel: channel,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewSession",
		"session":   s.id.String(),
		"ssrc":      s.ssrc,
		"encrypted": channel != nil,
	}).Info("Audio session created")

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Send wraps one encoded frame in an RTP packet and writes it out.
func (s *Session) Send(ctx context.Context, frame []byte, sampleCount uint32) error {
	if len(frame) == 0 {
		return fmt.Errorf("frame cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	payload := frame
	if s.channel != nil {
		sealed, err := s.channel.Encrypt(frame)
		if err != nil {
			s.stats.SendErrors++
			return fmt.Errorf("failed to seal frame: %w", err)
		}
		payload = sealed
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		s.stats.SendErrors++
		return fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	if err := s.writer.WritePacket(data); err != nil {
		s.stats.SendErrors++
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"session":  s.id.String(),
			"error":    err.Error(),
		}).Error("Failed to write audio packet")
		return fmt.Errorf("failed to write audio packet: %w", err)
	}

	s.seq++
	s.timestamp += sampleCount
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(data))
	s.stats.LastSend = time.Now()

	logrus.WithFields(logrus.Fields{
		"function":  "Send",
		"session":   s.id.String(),
		"sequence":  s.seq,
		"timestamp": s.timestamp,
		"bytes":     len(data),
	}).Debug("Audio packet sent")

	return nil
}

// Stats returns a copy of the session's send counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close marks the session closed. Further sends fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"session":  s.id.String(),
		"packets":  s.stats.PacketsSent,
	}).Info("Audio session closed")

	return nil
}
