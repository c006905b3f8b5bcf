package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sensornode/transport"
	"github.com/drblury/sensornode/transport/transporttest"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	transport.DefaultRegistry = transport.NewRegistry()
	defer func() { transport.DefaultRegistry = original }()

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.False(t, caps.Durable)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("posts events to base url plus topic", func(t *testing.T) {
		var (
			mu    sync.Mutex
			paths []string
			body  string
		)
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			paths = append(paths, r.URL.Path)
			body = string(data)
			mu.Unlock()
			w.WriteHeader(nethttp.StatusNoContent)
		}))
		defer server.Close()

		cfg := &transporttest.Config{HTTPPublisherURL: server.URL + "/ingest"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Publisher.Close()

		err = tr.Publisher.Publish("front-desk", message.NewMessage("01HV", []byte(`{"type":"kinect.depth"}`)))
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"/ingest/front-desk"}, paths)
		assert.Equal(t, `{"type":"kinect.depth"}`, body)
	})

	t.Run("surfaces server errors", func(t *testing.T) {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
		}))
		defer server.Close()

		tr, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: server.URL}, watermill.NopLogger{})
		require.NoError(t, err)

		err = tr.Publisher.Publish("lab-1", message.NewMessage("1", []byte(`{}`)))
		assert.Error(t, err)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: "http://localhost:8080"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("rejects unparseable url", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: "://nope"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid publisher URL")
	})
}
