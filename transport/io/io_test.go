package io

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sensornode/internal/runtime/jsoncodec"
	"github.com/drblury/sensornode/transport"
	"github.com/drblury/sensornode/transport/transporttest"
)

func readRecords(t *testing.T, data []byte) []Record {
	t.Helper()
	var out []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var r Record
		require.NoError(t, jsoncodec.Unmarshal(scanner.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	transport.DefaultRegistry = transport.NewRegistry()
	defer func() { transport.DefaultRegistry = original }()

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "io", caps.Name)
	assert.True(t, caps.SupportsOrdering)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.IOCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("opens configured file", func(t *testing.T) {
		testFile := filepath.Join(t.TempDir(), "events.jsonl")

		tr, err := Build(context.Background(), &transporttest.Config{IOFile: testFile}, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Publisher.Close()

		_, err = os.Stat(testFile)
		assert.NoError(t, err)
	})

	t.Run("uses default file path when empty", func(t *testing.T) {
		originalFactory := PublisherFactory
		defer func() { PublisherFactory = originalFactory }()

		var gotPath string
		PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
			gotPath = filePath
			return &transporttest.Publisher{}, nil
		}

		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, DefaultFilePath, gotPath)
	})

	t.Run("fails for unwritable location", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing", "events.jsonl")

		_, err := Build(context.Background(), &transporttest.Config{IOFile: missing}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "io: open")
	})
}

func TestPublisher_Publish(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "publish.jsonl")
	pub, err := NewPublisher(testFile, nil)
	require.NoError(t, err)

	msg1 := message.NewMessage("uuid-1", []byte(`{"presence":true}`))
	msg1.Metadata.Set("sensor_name", "front-desk")
	msg2 := message.NewMessage("uuid-2", []byte{0xff, 0x00})

	require.NoError(t, pub.Publish("front-desk", msg1))
	require.NoError(t, pub.Publish("front-desk", msg2))
	require.NoError(t, pub.Close())

	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	records := readRecords(t, data)
	require.Len(t, records, 2)

	assert.Equal(t, "uuid-1", records[0].UUID)
	assert.Equal(t, "front-desk", records[0].Topic)
	assert.Equal(t, "front-desk", records[0].Metadata["sensor_name"])
	assert.JSONEq(t, `{"presence":true}`, string(records[0].Payload))
	assert.Empty(t, records[0].Raw)

	assert.Empty(t, records[1].Payload)
	assert.Equal(t, []byte{0xff, 0x00}, records[1].Raw)
}

func TestPublisher_AppendsAcrossReopen(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "append.jsonl")

	for _, id := range []string{"a", "b"} {
		pub, err := NewPublisher(testFile, watermill.NopLogger{})
		require.NoError(t, err)
		require.NoError(t, pub.Publish("lab-1", message.NewMessage(id, []byte(`{}`))))
		require.NoError(t, pub.Close())
	}

	data, err := os.ReadFile(testFile)
	require.NoError(t, err)
	records := readRecords(t, data)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].UUID)
	assert.Equal(t, "b", records[1].UUID)
}

func TestPublisher_Close(t *testing.T) {
	var buf bytes.Buffer
	pub := NewWriterPublisher(&buf)

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	err := pub.Publish("lab-1", message.NewMessage("1", nil))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, buf.Len())
}

func TestNewPublisher_Stdout(t *testing.T) {
	pub, err := NewPublisher(Stdout, nil)
	require.NoError(t, err)
	assert.Same(t, os.Stdout, pub.w)
	require.NoError(t, pub.Close())
}
