package particle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
)

const maxErrorBody = 64 << 10

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Info             string `json:"info"`
}

func (e *apiError) short() string {
	switch {
	case e == nil:
		return ""
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Info != "":
		return e.Info
	default:
		return e.Error
	}
}

// Client talks to the Particle device cloud. It carries no timeout of its
// own: callers bound each call through the context, and event streams must
// stay open indefinitely.
type Client struct {
	http         *resty.Client
	clientID     string
	clientSecret string
}

func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("User-Agent", "locator-relay"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Authenticate exchanges username and password for an access token.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	var token tokenResponse
	var failure apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetFormData(map[string]string{
			"grant_type": "password",
			"username":   username,
			"password":   password,
		}).
		SetResult(&token).
		SetError(&failure).
		Post("/oauth/token")
	if err != nil {
		return "", fmt.Errorf("particle login request: %w", err)
	}

	if resp.IsError() {
		reason := describe(resp.StatusCode(), failure.short())
		log.Warn().Int("status", resp.StatusCode()).Str("reason", reason).Msg("particle login rejected")
		return "", apperrors.AuthFailed(reason)
	}

	if token.AccessToken == "" {
		return "", apperrors.AuthFailed("no access token in response")
	}

	return token.AccessToken, nil
}

// OpenEventStream subscribes to the event stream of the selected devices.
// The stream lives as long as ctx; cancelling ctx ends it.
func (c *Client) OpenEventStream(ctx context.Context, deviceSelector, credential string) (EventStream, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Get(eventsPath(deviceSelector))
	if err != nil {
		return nil, fmt.Errorf("particle event stream request: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer body.Close()
		raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		reason := describe(resp.StatusCode(), errorFromBody(raw))
		log.Warn().Int("status", resp.StatusCode()).Str("reason", reason).Msg("particle event stream rejected")
		return nil, apperrors.StreamOpenFailed(reason)
	}

	return newStream(body), nil
}

func eventsPath(deviceSelector string) string {
	if deviceSelector == "" || deviceSelector == config.DeviceSelectorMine {
		return "/v1/devices/events"
	}
	return "/v1/devices/" + url.PathEscape(deviceSelector) + "/events"
}

func errorFromBody(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	for _, key := range []string{"error_description", "info", "error"} {
		if v := gjson.GetBytes(raw, key).String(); v != "" {
			return v
		}
	}
	return ""
}

func describe(status int, reason string) string {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return fmt.Sprintf("%d: %s", status, reason)
}
