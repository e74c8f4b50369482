package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

// RelayClient talks to the voice backend over HTTP. It implements both
// Signaler and Roster.
type RelayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRelayClient returns a client for the backend at baseURL
// (e.g. "http://localhost:8080").
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken attaches a bearer token to subsequent requests. Only the room
// teardown route requires it.
func (r *RelayClient) SetToken(token string) { r.token = token }

func (r *RelayClient) Send(ctx context.Context, roomID, sender, recipient string, typ models.SignalType, data json.RawMessage) error {
	req := models.SendSignalRequest{
		RoomID:    roomID,
		Sender:    sender,
		Recipient: recipient,
		Type:      typ,
		Data:      data,
	}
	var resp models.SendSignalResponse
	if err := r.post(ctx, "/api/voice/signals", req, &resp); err != nil {
		return fmt.Errorf("send %s signal: %w", typ, err)
	}
	if !resp.Success {
		return fmt.Errorf("send %s signal: relay refused", typ)
	}
	return nil
}

func (r *RelayClient) Poll(ctx context.Context, recipient, roomID string) ([]models.SignalingMessage, error) {
	q := url.Values{}
	q.Set("recipient", recipient)
	q.Set("roomId", roomID)
	var msgs []models.SignalingMessage
	if err := r.get(ctx, "/api/voice/signals?"+q.Encode(), &msgs); err != nil {
		return nil, fmt.Errorf("poll signals: %w", err)
	}
	return msgs, nil
}

func (r *RelayClient) Acknowledge(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var resp models.MarkProcessedResponse
	if err := r.post(ctx, "/api/voice/signals/processed", models.MarkProcessedRequest{IDs: ids}, &resp); err != nil {
		return 0, fmt.Errorf("acknowledge signals: %w", err)
	}
	return resp.ProcessedCount, nil
}

func (r *RelayClient) JoinChannel(ctx context.Context, roomID, address, username string) (*models.JoinChannelResponse, error) {
	req := models.JoinChannelRequest{Address: address, Username: username}
	var resp models.JoinChannelResponse
	if err := r.post(ctx, "/api/voice/channels/"+url.PathEscape(roomID)+"/join", req, &resp); err != nil {
		return nil, fmt.Errorf("join channel: %w", err)
	}
	return &resp, nil
}

func (r *RelayClient) LeaveChannel(ctx context.Context, roomID, address string) (int, error) {
	req := models.LeaveChannelRequest{Address: address}
	var resp models.LeaveChannelResponse
	if err := r.post(ctx, "/api/voice/channels/"+url.PathEscape(roomID)+"/leave", req, &resp); err != nil {
		return 0, fmt.Errorf("leave channel: %w", err)
	}
	return resp.DeletedCount, nil
}

func (r *RelayClient) Participants(ctx context.Context, roomID string) ([]models.VoiceParticipant, error) {
	var parts []models.VoiceParticipant
	if err := r.get(ctx, "/api/voice/channels/"+url.PathEscape(roomID)+"/participants", &parts); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return parts, nil
}

func (r *RelayClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *RelayClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	return r.do(req, out)
}

func (r *RelayClient) do(req *http.Request, out any) error {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
