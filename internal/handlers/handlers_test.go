package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/JVHBO/vibefid-voice/internal/middleware"
	"github.com/JVHBO/vibefid-voice/internal/models"
	"github.com/JVHBO/vibefid-voice/internal/store"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	signals := store.NewSignalStore(rdb, 5*time.Minute)
	presence := store.NewPresenceStore(rdb, 30*time.Minute, []string{"cpu", "bot"})

	router := gin.New()
	api := router.Group("/api/voice")
	api.POST("/signals", SendSignal(signals))
	api.GET("/signals", GetSignals(signals))
	api.POST("/signals/processed", MarkSignalsProcessed(signals))
	api.POST("/channels/:roomId/join", JoinVoiceChannel(presence))
	api.POST("/channels/:roomId/leave", LeaveVoiceChannel(presence))
	api.GET("/channels/:roomId/participants", GetVoiceParticipants(presence))
	api.DELETE("/channels/:roomId", middleware.JWTAuth(testSecret), ClearVoiceRoom(presence))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSignalRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	// Two signals to the same recipient; order must survive.
	for _, typ := range []models.SignalType{models.SignalTypeOffer, models.SignalTypeICECandidate} {
		w := doJSON(t, router, http.MethodPost, "/api/voice/signals", models.SendSignalRequest{
			RoomID:    "room1",
			Sender:    "0xBBB",
			Recipient: "0xAAA",
			Type:      typ,
			Data:      json.RawMessage(`{"sdp":"v=0"}`),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("send %s: status %d: %s", typ, w.Code, w.Body)
		}
	}

	w := doJSON(t, router, http.MethodGet, "/api/voice/signals?recipient=0xaaa&roomId=room1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	var msgs []models.SignalingMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(msgs))
	}
	if msgs[0].Type != models.SignalTypeOffer || msgs[1].Type != models.SignalTypeICECandidate {
		t.Fatalf("order broken: %s, %s", msgs[0].Type, msgs[1].Type)
	}

	w = doJSON(t, router, http.MethodPost, "/api/voice/signals/processed", models.MarkProcessedRequest{
		IDs: []string{msgs[0].ID, msgs[1].ID, "missing"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("mark processed: status %d", w.Code)
	}
	var marked models.MarkProcessedResponse
	json.Unmarshal(w.Body.Bytes(), &marked)
	if marked.ProcessedCount != 2 {
		t.Fatalf("processedCount = %d, want 2", marked.ProcessedCount)
	}

	w = doJSON(t, router, http.MethodGet, "/api/voice/signals?recipient=0xaaa&roomId=room1", nil)
	json.Unmarshal(w.Body.Bytes(), &msgs)
	if len(msgs) != 0 {
		t.Fatalf("acknowledged signals still pending: %d", len(msgs))
	}
}

func TestSendSignalRejectsBadType(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/voice/signals", models.SendSignalRequest{
		RoomID:    "room1",
		Sender:    "a",
		Recipient: "b",
		Type:      "bye",
		Data:      json.RawMessage(`{}`),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestJoinLeaveParticipants(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/voice/channels/room1/join", models.JoinChannelRequest{
		Address: "0xAAA", Username: "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("join: status %d: %s", w.Code, w.Body)
	}
	var joined models.JoinChannelResponse
	json.Unmarshal(w.Body.Bytes(), &joined)
	if !joined.Success || joined.Blocked {
		t.Fatalf("unexpected join response: %+v", joined)
	}

	w = doJSON(t, router, http.MethodGet, "/api/voice/channels/room1/participants", nil)
	var parts []models.VoiceParticipant
	json.Unmarshal(w.Body.Bytes(), &parts)
	if len(parts) != 1 || parts[0].Address != "0xaaa" || parts[0].Username != "alice" {
		t.Fatalf("participants = %+v", parts)
	}

	w = doJSON(t, router, http.MethodPost, "/api/voice/channels/room1/leave", models.LeaveChannelRequest{Address: "0xaaa"})
	var left models.LeaveChannelResponse
	json.Unmarshal(w.Body.Bytes(), &left)
	if !left.Success || left.DeletedCount != 1 {
		t.Fatalf("leave response = %+v", left)
	}

	w = doJSON(t, router, http.MethodGet, "/api/voice/channels/room1/participants", nil)
	json.Unmarshal(w.Body.Bytes(), &parts)
	if len(parts) != 0 {
		t.Fatalf("participants after leave = %+v", parts)
	}
}

func TestJoinBlocksBots(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/voice/channels/room1/join", models.JoinChannelRequest{
		Address: "0xbbb", Username: "CPU Opponent",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("join: status %d", w.Code)
	}
	var joined models.JoinChannelResponse
	json.Unmarshal(w.Body.Bytes(), &joined)
	if !joined.Blocked {
		t.Fatalf("bot not blocked: %+v", joined)
	}

	w = doJSON(t, router, http.MethodGet, "/api/voice/channels/room1/participants", nil)
	var parts []models.VoiceParticipant
	json.Unmarshal(w.Body.Bytes(), &parts)
	if len(parts) != 0 {
		t.Fatalf("blocked join stored a record: %+v", parts)
	}
}

func TestClearRoomRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodDelete, "/api/voice/channels/room1", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
