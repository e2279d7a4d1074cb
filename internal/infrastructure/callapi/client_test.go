package callapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"embercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_InitiateCall(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"callId": "call-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", time.Second)
	id, err := c.InitiateCall(context.Background(), "peer-1", domain.CallTypeVideo)
	require.NoError(t, err)

	assert.Equal(t, domain.CallID("call-42"), id)
	assert.Equal(t, "/call/initiate", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "peer-1", gotBody["toUserId"])
	assert.Equal(t, "video", gotBody["callType"])
}

func TestClient_InitiateCallBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "user offline"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.InitiateCall(context.Background(), "peer-1", domain.CallTypeVoice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user offline")
}

func TestClient_NonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	err := c.AcceptCall(context.Background(), "call-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestClient_LifecycleEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["callId"] != "call-7" {
			t.Errorf("unexpected call id %q on %s", body["callId"], r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	require.NoError(t, c.AcceptCall(context.Background(), "call-7"))
	require.NoError(t, c.RejectCall(context.Background(), "call-7"))
	require.NoError(t, c.EndCall(context.Background(), "call-7"))

	assert.Equal(t, []string{"/call/accept", "/call/reject", "/call/end"}, paths)
}

func TestClient_UnreachableBackend(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 200*time.Millisecond)
	_, err := c.InitiateCall(context.Background(), "peer-1", domain.CallTypeVoice)
	assert.Error(t, err)
}
