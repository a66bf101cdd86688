package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/harskill/internal/replay"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

const sampleHar = `{
  "log": {
    "entries": [
      {
        "time": 1,
        "request": {
          "method": "POST",
          "url": "https://api.acme.test/login",
          "headers": [{"name": "content-type", "value": "application/json"}],
          "cookies": [],
          "queryString": [],
          "postData": {"mimeType": "application/json", "text": "{\"user\":\"a\"}"}
        },
        "response": {
          "status": 200,
          "headers": [{"name": "content-type", "value": "application/json"}],
          "content": {"mimeType": "application/json", "text": "{\"token\":\"abcdef0123456789\"}"}
        }
      },
      {
        "time": 2,
        "request": {
          "method": "GET",
          "url": "https://api.acme.test/me",
          "headers": [{"name": "authorization", "value": "Bearer abcdef0123456789"}],
          "cookies": [],
          "queryString": []
        },
        "response": {
          "status": 200,
          "headers": [{"name": "content-type", "value": "application/json"}],
          "content": {"mimeType": "application/json", "text": "{\"id\":1}"}
        }
      }
    ]
  }
}`

func TestIngestHarProducesApiDataAndCorrelationGraph(t *testing.T) {
	result, err := IngestHar([]byte(sampleHar), "https://api.acme.test/login", IngestOptions{Now: fixedNow})
	require.NoError(t, err)

	assert.Equal(t, "acme", result.ApiData.Service)
	assert.Equal(t, "api.acme.test", result.ApiData.BaseURL)
	require.NotNil(t, result.ApiData.AuthInfo)
	assert.Equal(t, "Bearer Token", result.ApiData.AuthInfo.AuthMethod)
	require.NotNil(t, result.ApiData.HeaderProfile)

	require.Len(t, result.Captures, 2)
	require.Len(t, result.Graph.Links, 1)
	assert.Equal(t, 0, result.Graph.Links[0].SourceRequestIndex)
	assert.Equal(t, 1, result.Graph.Links[0].TargetRequestIndex)
}

func TestIngestHarMalformedCaptureReturnsError(t *testing.T) {
	_, err := IngestHar([]byte(`{"not":"a har document"}`), "https://api.acme.test", IngestOptions{})
	assert.Error(t, err)
}

func TestReplayDrivesChainThroughTransport(t *testing.T) {
	result, err := IngestHar([]byte(sampleHar), "https://api.acme.test/login", IngestOptions{Now: fixedNow})
	require.NoError(t, err)

	var seenAuth string
	transport := func(_ context.Context, req replay.PreparedRequest) (replay.RuntimeResponse, error) {
		if req.URL == "https://api.acme.test/login" {
			return replay.RuntimeResponse{Status: 200, Headers: map[string]string{"content-type": "application/json"}, BodyText: `{"token":"abcdef0123456789"}`}, nil
		}
		seenAuth = req.Headers["Authorization"]
		return replay.RuntimeResponse{Status: 200, Headers: map[string]string{}, BodyText: `{"id":1}`}, nil
	}

	out, err := Replay(context.Background(), result.Captures, result.Graph, 1, transport, replay.Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, out.Chain)
	assert.Equal(t, "abcdef0123456789", seenAuth, "the correlation link overwrites the header with the bare correlated value")
	require.NotNil(t, out.Final)
	assert.Equal(t, 200, out.Final.Status)
}
