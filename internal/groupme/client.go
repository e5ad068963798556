package groupme

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/google/uuid"
)

var (
	// ErrNoAccessToken is returned when the client has no GroupMe access token
	ErrNoAccessToken = errors.New("groupme access token is not set")

	// ErrInvalidJoinLink is returned for links that are not GroupMe share links
	ErrInvalidJoinLink = errors.New("invalid groupme join link")
)

// Client talks to the GroupMe API as the bot user
type Client struct {
	APIURL   string
	ImageURL string
	Token    string
	HTTP     *http.Client
}

// NewClient returns a Client with a bounded request timeout
func NewClient(apiURL, imageURL, token string) *Client {
	return &Client{
		APIURL:   strings.TrimRight(apiURL, "/"),
		ImageURL: imageURL,
		Token:    token,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// ParseJoinLink extracts the group id and share token from a link such as
// https://groupme.com/join_group/12345678/SHARE_TOKEN
func ParseJoinLink(link string) (groupID string, shareToken string, err error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(link), "/"), "/")
	for i, part := range parts {
		if part != "join_group" {
			continue
		}
		if i+2 >= len(parts) || parts[i+1] == "" || parts[i+2] == "" {
			break
		}
		return parts[i+1], parts[i+2], nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrInvalidJoinLink, link)
}

// JoinGroup joins the bot user to a group through its share token
func (c *Client) JoinGroup(ctx context.Context, groupID, shareToken string) error {
	if c.Token == "" {
		return ErrNoAccessToken
	}

	u := fmt.Sprintf("%s/groups/%s/join/%s?token=%s", c.APIURL, url.PathEscape(groupID), url.PathEscape(shareToken), url.QueryEscape(c.Token))
	resp, err := c.do(ctx, http.MethodPost, u, nil, nil)
	if err != nil {
		return err
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slogs.Logr.Error("Failed to join group", "group", groupID, "status", resp.Status)
		return fmt.Errorf("received error response joining group %s: %s", groupID, resp.Status)
	}

	slogs.Logr.Info("Successfully joined group", "group", groupID)
	return nil
}

type imageResponse struct {
	Payload struct {
		PictureURL string `json:"picture_url"`
	} `json:"payload"`
}

// UploadImage stores an image with GroupMe's image service and returns its URL
func (c *Client) UploadImage(ctx context.Context, contentType string, data []byte) (string, error) {
	if c.Token == "" {
		return "", ErrNoAccessToken
	}

	headers := map[string]string{
		"X-Access-Token": c.Token,
		"Content-Type":   contentType,
	}
	resp, err := c.do(ctx, http.MethodPost, c.ImageURL, bytes.NewReader(data), headers)
	if err != nil {
		return "", err
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		slogs.Logr.Error("Failed to upload image", "status", resp.Status)
		return "", fmt.Errorf("received error response uploading image: %s", resp.Status)
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("error decoding image response: %w", err)
	}
	if out.Payload.PictureURL == "" {
		return "", fmt.Errorf("image response has no picture_url")
	}
	return out.Payload.PictureURL, nil
}

type attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type message struct {
	SourceGUID  string       `json:"source_guid"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type messageRequest struct {
	Message message `json:"message"`
}

// SendMessage posts text, and optionally an uploaded image, to a group
func (c *Client) SendMessage(ctx context.Context, groupID, text, imageURL string) error {
	if c.Token == "" {
		return ErrNoAccessToken
	}

	msg := messageRequest{Message: message{
		SourceGUID: uuid.New().String(),
		Text:       text,
	}}
	if imageURL != "" {
		msg.Message.Attachments = []attachment{{Type: "image", URL: imageURL}}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/groups/%s/messages?token=%s", c.APIURL, url.PathEscape(groupID), url.QueryEscape(c.Token))
	resp, err := c.do(ctx, http.MethodPost, u, bytes.NewReader(body), map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		slogs.Logr.Error("Failed to send message to group", "group", groupID, "status", resp.Status)
		return fmt.Errorf("received error response sending to group %s: %s", groupID, resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("error creating groupme request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// the url carries the access token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("error contacting groupme: %w", err)
	}
	return resp, nil
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		slogs.Logr.Error("Error closing groupme response body", "error", err)
	}
}
