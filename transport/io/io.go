// Package io provides a file transport that appends every event as one JSON
// line. A path of "-" writes to stdout.
package io

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sensornode/internal/runtime/jsoncodec"
	"github.com/drblury/sensornode/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "events.jsonl"

// Stdout selects standard output instead of a file.
const Stdout = "-"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("io: publisher closed")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(filePath, logger)
}

func init() {
	Register()
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: pub}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// Record is one line of the output file. JSON payloads are embedded as-is,
// anything else is kept base64 encoded in Raw.
type Record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Raw      []byte            `json:"raw,omitempty"`
}

// NewRecord converts a watermill message into its file form.
func NewRecord(topic string, msg *message.Message) Record {
	r := Record{UUID: msg.UUID, Topic: topic, Metadata: msg.Metadata}
	if len(msg.Payload) > 0 && jsoncodec.Valid(msg.Payload) {
		r.Payload = json.RawMessage(msg.Payload)
	} else if len(msg.Payload) > 0 {
		r.Raw = msg.Payload
	}
	return r
}

// Publisher appends records to a file it keeps open until Close.
type Publisher struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger watermill.LoggerAdapter
	closed bool
}

// NewPublisher opens filePath for appending, creating it if needed.
func NewPublisher(filePath string, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if filePath == Stdout {
		return &Publisher{w: os.Stdout, logger: logger}, nil
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("io: open %s: %w", filePath, err)
	}
	logger.Info("Appending events to file", watermill.LogFields{"path": filePath})
	return &Publisher{w: f, closer: f, logger: logger}, nil
}

// NewWriterPublisher writes records to w. The caller owns w.
func NewWriterPublisher(w io.Writer) *Publisher {
	return &Publisher{w: w, logger: watermill.NopLogger{}}
}

// Publish writes one line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	for _, msg := range messages {
		if err := jsoncodec.Encode(p.w, NewRecord(topic, msg)); err != nil {
			return fmt.Errorf("io: write event %s: %w", msg.UUID, err)
		}
	}
	return nil
}

// Close closes the file. Calling it again is a no-op.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
