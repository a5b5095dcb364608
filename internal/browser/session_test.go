package browser

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRecorder() *Session {
	return &Session{log: zap.NewNop(), index: make(map[string]int)}
}

func TestOnEvent_RecordsRequestsAndExtraHeaders(t *testing.T) {
	s := newRecorder()

	s.onEvent(&network.EventRequestWillBeSent{
		RequestID: "r1",
		Request: &network.Request{
			URL:     "https://abc.execute-api.us-west-2.amazonaws.com/prod/centers/CAANCC/incidents",
			Method:  "GET",
			Headers: network.Headers{"Accept": "application/json"},
		},
	})
	s.onEvent(&network.EventRequestWillBeSentExtraInfo{
		RequestID: "r1",
		Headers:   network.Headers{"Authorization": "Bearer t0k"},
	})
	s.onEvent(&network.EventRequestWillBeSentExtraInfo{
		RequestID: "unknown",
		Headers:   network.Headers{"X": "y"},
	})

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "GET", reqs[0].Method)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Accept"))
	assert.Equal(t, "Bearer t0k", reqs[0].Header.Get("Authorization"))

	// Returned headers are copies.
	reqs[0].Header.Set("Accept", "text/html")
	assert.Equal(t, "application/json", s.Requests()[0].Header.Get("Accept"))
}

func TestOnEvent_RecordsConsole(t *testing.T) {
	s := newRecorder()

	s.onEvent(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeError,
		Args: []*runtime.RemoteObject{{Value: []byte(`"grid failed"`)}, {Description: "Error: boom"}},
	})
	s.onEvent(&runtime.EventExceptionThrown{
		ExceptionDetails: &runtime.ExceptionDetails{Text: "Uncaught TypeError"},
	})

	log := s.ConsoleLog()
	require.Len(t, log, 2)
	assert.Equal(t, `[error] "grid failed" Error: boom`, log[0])
	assert.Equal(t, "[exception] Uncaught TypeError", log[1])
}

func TestToHeader(t *testing.T) {
	h := toHeader(network.Headers{"x-api-key": "k", "content-length": 12})
	assert.Equal(t, "k", h.Get("X-Api-Key"))
	assert.Equal(t, "12", h.Get("Content-Length"))
}
