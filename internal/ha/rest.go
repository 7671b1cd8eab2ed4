package ha

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrEntityNotFound is returned when Home Assistant has no state for an entity
var ErrEntityNotFound = errors.New("entity not found")

// RESTClient writes entity states through the Home Assistant REST API.
// The WebSocket API has no equivalent of POST /api/states.
type RESTClient struct {
	client *resty.Client
	logger *zap.Logger
}

// NewRESTClient creates a REST client for the Home Assistant instance at baseURL
func NewRESTClient(baseURL, token string, logger *zap.Logger) *RESTClient {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &RESTClient{
		client: client,
		logger: logger.Named("ha_rest"),
	}
}

// SetState creates or replaces the state of entityID
func (r *RESTClient) SetState(entityID, state string, attributes map[string]interface{}) (*State, error) {
	var result State

	resp, err := r.client.R().
		SetBody(SetStateRequest{State: state, Attributes: attributes}).
		SetResult(&result).
		Post("/api/states/" + url.PathEscape(entityID))
	if err != nil {
		return nil, fmt.Errorf("failed to set state of %s: %w", entityID, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("failed to set state of %s: HTTP %d: %s",
			entityID, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	r.logger.Debug("State written",
		zap.String("entity_id", entityID),
		zap.String("state", state),
		zap.Int("status", resp.StatusCode()))

	return &result, nil
}

// RESTURLFromWebSocket derives the REST base URL from a WebSocket API URL,
// e.g. ws://hass.local:8123/api/websocket -> http://hass.local:8123
func RESTURLFromWebSocket(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse %q: %w", wsURL, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, wsURL)
	}

	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api/websocket")
	u.RawQuery = ""
	u.Fragment = ""

	return strings.TrimSuffix(u.String(), "/"), nil
}
