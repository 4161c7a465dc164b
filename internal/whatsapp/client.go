package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/phone"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNoCredentials means no token/phone-id pair could be resolved for the
// requested channel. Callers must treat it as a hard stop; there is no
// fallback to another channel's credentials.
var ErrNoCredentials = errors.New("no credentials resolvable for channel")

// Gateway wraps the provider's HTTP API behind typed operations. Every
// call resolves its bearer credential from the channel row it is sent on
// behalf of.
type Gateway struct {
	db   *gorm.DB
	base string
	http *http.Client
}

func NewGateway(db *gorm.DB, base string) *Gateway {
	return &Gateway{
		db:   db,
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type credential struct {
	Token   string
	PhoneID string
}

// credentials is the single credential-resolution point.
func (g *Gateway) credentials(channelID string) (credential, error) {
	if channelID == "" {
		return credential{}, ErrNoCredentials
	}
	var ch models.Channel
	if err := g.db.First(&ch, "id = ?", channelID).Error; err != nil {
		return credential{}, fmt.Errorf("%w: %s", ErrNoCredentials, channelID)
	}
	if ch.AccessToken == "" || ch.PhoneID == "" {
		return credential{}, fmt.Errorf("%w: %s", ErrNoCredentials, channelID)
	}
	return credential{Token: ch.AccessToken, PhoneID: ch.PhoneID}, nil
}

// --- Message structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Video            *MediaObj    `json:"video,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body string `json:"body"`
}

type MediaObj struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// --- Messaging operations ---

// SendText sends a plain text message and returns the provider message id.
func (g *Gateway) SendText(ctx context.Context, channelID, to, body string) (string, error) {
	return g.send(ctx, channelID, GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	})
}

// SendTemplate sends an approved template with optional positional body
// parameters.
func (g *Gateway) SendTemplate(ctx context.Context, channelID, to, name, language string, params []string) (string, error) {
	tmpl := &TemplateObj{
		Name:     name,
		Language: LanguageObj{Code: language},
	}
	if len(params) > 0 {
		comp := ComponentObj{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, ParameterObj{Type: "text", Text: p})
		}
		tmpl.Components = []ComponentObj{comp}
	}
	return g.send(ctx, channelID, GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         tmpl,
	})
}

// SendMediaByID sends previously uploaded media by its provider reference.
func (g *Gateway) SendMediaByID(ctx context.Context, channelID, to, mediaType, mediaID, caption string) (string, error) {
	obj := &MediaObj{ID: mediaID}
	if caption != "" && mediaType != "audio" {
		obj.Caption = caption
	}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             mediaType,
	}
	switch mediaType {
	case "image":
		msg.Image = obj
	case "video":
		msg.Video = obj
	case "audio":
		msg.Audio = obj
	case "document":
		msg.Document = obj
	default:
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}
	return g.send(ctx, channelID, msg)
}

// send is the one place the canonical-to-dispatch phone rewrite happens on
// the outbound path.
func (g *Gateway) send(ctx context.Context, channelID string, msg GenericMessage) (string, error) {
	cred, err := g.credentials(channelID)
	if err != nil {
		return "", err
	}
	msg.To = phone.ForDispatch(msg.To)

	url := fmt.Sprintf("%s/%s/messages", g.base, cred.PhoneID)
	respBody, err := g.request(ctx, http.MethodPost, url, cred.Token, msg)
	if err != nil {
		return "", err
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", errors.New("send response carried no message id")
	}
	return resp.Messages[0].ID, nil
}

// --- Media operations ---

type MediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// MediaInfo fetches the short-lived download URL and declared MIME type of
// a media object.
func (g *Gateway) MediaInfo(ctx context.Context, channelID, mediaID string) (*MediaInfo, error) {
	cred, err := g.credentials(channelID)
	if err != nil {
		return nil, err
	}
	respBody, err := g.request(ctx, http.MethodGet, fmt.Sprintf("%s/%s", g.base, mediaID), cred.Token, nil)
	if err != nil {
		return nil, err
	}
	var info MediaInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}
	return &info, nil
}

// DownloadMedia fetches the binary behind a media URL obtained from
// MediaInfo. The URL is provider-hosted and still requires the bearer
// token.
func (g *Gateway) DownloadMedia(ctx context.Context, channelID, url string) ([]byte, error) {
	cred, err := g.credentials(channelID)
	if err != nil {
		return nil, err
	}
	return g.request(ctx, http.MethodGet, url, cred.Token, nil)
}

// UploadMedia pushes raw bytes to the provider and returns the media id.
func (g *Gateway) UploadMedia(ctx context.Context, channelID string, data []byte, mimeType, filename string) (string, error) {
	cred, err := g.credentials(channelID)
	if err != nil {
		return "", err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	part.Write(data)
	writer.WriteField("type", mimeType)
	writer.WriteField("messaging_product", "whatsapp")
	writer.Close()

	url := fmt.Sprintf("%s/%s/media", g.base, cred.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("upload failed: %s - %s", resp.Status, string(respBody))
	}

	var mediaResp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &mediaResp); err != nil {
		return "", err
	}
	return mediaResp.ID, nil
}

// --- Credential verification ---

// VerifyCredentials fetches the phone metadata for the supplied pair and
// checks the returned identifier matches. Used by the channel test
// endpoint before credentials are saved, so it takes them raw instead of
// resolving a channel row.
func (g *Gateway) VerifyCredentials(ctx context.Context, phoneID, token string) (string, error) {
	if phoneID == "" || token == "" {
		return "", ErrNoCredentials
	}
	respBody, err := g.request(ctx, http.MethodGet, fmt.Sprintf("%s/%s", g.base, phoneID), token, nil)
	if err != nil {
		return "", err
	}
	var meta struct {
		ID                 string `json:"id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	}
	if err := json.Unmarshal(respBody, &meta); err != nil {
		return "", fmt.Errorf("decode phone metadata: %w", err)
	}
	if meta.ID != phoneID {
		return "", fmt.Errorf("credential check returned phone id %q, expected %q", meta.ID, phoneID)
	}
	return meta.DisplayPhoneNumber, nil
}

func (g *Gateway) request(ctx context.Context, method, url, token string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		log.WithFields(log.Fields{"url": url, "status": resp.Status}).Debug("provider call failed")
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}
	return respBody, nil
}
