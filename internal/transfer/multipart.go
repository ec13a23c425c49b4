package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"github.com/uploadhub/backend/internal/models"
)

// DefaultFieldName is the form field carrying the file when none is configured.
const DefaultFieldName = "file"

// maxResponseBody caps how much of a response body is kept on the tracked file.
const maxResponseBody = 1 << 20

// MultipartConfig configures a Multipart channel.
type MultipartConfig struct {
	Action    string            // target URL
	FieldName string            // form field for the file, "file" when empty
	Headers   map[string]string // extra request headers
	Data      map[string]string // extra form fields sent before the file
	Client    *http.Client
}

// Multipart posts each file as multipart/form-data to an HTTP endpoint.
type Multipart struct {
	cfg    MultipartConfig
	client *http.Client
}

// NewMultipart creates a Multipart channel.
func NewMultipart(cfg MultipartConfig) (*Multipart, error) {
	if cfg.Action == "" {
		return nil, fmt.Errorf("multipart channel: action URL is required")
	}
	if cfg.FieldName == "" {
		cfg.FieldName = DefaultFieldName
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Multipart{cfg: cfg, client: client}, nil
}

// Transfer implements Channel.
func (m *Multipart) Transfer(ctx context.Context, file *models.File, progress ProgressFunc) (*models.Response, error) {
	if !file.HasContent() {
		return nil, errNoContent
	}
	content, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer content.Close()

	head, boundary, err := m.preamble(file)
	if err != nil {
		return nil, err
	}
	tail := fmt.Sprintf("\r\n--%s--\r\n", boundary)
	length := int64(head.Len()) + file.Size + int64(len(tail))

	body := newProgressReader(io.MultiReader(head, content, strings.NewReader(tail)), length, progress)
	defer body.finish()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Action, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	for k, v := range m.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body.finish()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return &models.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Location:   resp.Header.Get("Location"),
	}, nil
}

// preamble renders the extra fields and the file part header. The file
// bytes and the closing boundary are streamed after it.
func (m *Multipart) preamble(file *models.File) (*bytes.Buffer, string, error) {
	head := new(bytes.Buffer)
	mw := multipart.NewWriter(head)

	keys := make([]string, 0, len(m.cfg.Data))
	for k := range m.cfg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, m.cfg.Data[k]); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(m.cfg.FieldName), escapeQuotes(file.Name)))
	h.Set("Content-Type", contentType)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, "", fmt.Errorf("writing file header: %w", err)
	}
	return head, mw.Boundary(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
