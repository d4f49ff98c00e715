// Package adapter turns (provider, endpoint, mode, params) into concrete
// HTTP requests and parses provider responses back into uniform results.
// Two dialect strategies exist: OpenAI-compatible flat REST and Gemini
// contents/parts documents. The executor performs the call with retry,
// polling, and result downloads.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/account"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/upload"
)

// Input carries everything one provider call is built from. Params holds
// the prompt, seed, and free-form extra parameters; Uploads are shared
// read-only with sibling batch items.
type Input struct {
	Mode    string
	Params  map[string]any
	Uploads []*types.UploadFile
}

// cloneParams returns a shallow copy so builders can mutate freely.
func (in *Input) cloneParams() map[string]any {
	p := make(map[string]any, len(in.Params)+1)
	for k, v := range in.Params {
		p[k] = v
	}
	return p
}

// MultipartFile is one file part of a multipart request.
type MultipartFile struct {
	Field    string
	Filename string
	MimeType string
	Data     []byte
}

// Request is a concrete HTTP request descriptor. Exactly one body
// representation is set, consistent with ContentType: JSON for
// application/json, Files (+Form fields) for multipart, Form alone for
// anything else.
type Request struct {
	URL         string
	Method      string
	Header      http.Header
	ContentType string
	JSON        map[string]any
	Form        url.Values
	Files       []MultipartFile
}

// Encode produces a fresh body reader and its content type. Each call
// builds a new reader so the executor can re-send on retry.
func (r *Request) Encode() (io.Reader, string, error) {
	switch {
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	case len(r.Files) > 0:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, vs := range r.Form {
			for _, v := range vs {
				if err := w.WriteField(k, v); err != nil {
					return nil, "", err
				}
			}
		}
		for _, f := range r.Files {
			part, err := w.CreateFormFile(f.Field, f.Filename)
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	case r.Form != nil:
		ct := r.ContentType
		if ct == "" {
			ct = "application/x-www-form-urlencoded"
		}
		return strings.NewReader(r.Form.Encode()), ct, nil
	default:
		return nil, r.ContentType, nil
	}
}

// Dialect is one request/response shape strategy.
type Dialect interface {
	// ProviderName identifies the provider for logs and failover exclusion.
	ProviderName() string
	// Build renders the mode's template into a request descriptor.
	Build(ctx context.Context, in *Input) (*Request, error)
	// Parse converts a 2xx response body into a uniform result.
	Parse(body []byte) *types.APIResponse
}

// Options carries the external collaborators dialects may use.
type Options struct {
	// Credentials serves account-mode auth headers.
	Credentials account.CredentialProvider
	// Cache, when set, lets the Gemini dialect reference uploads by URI.
	Cache upload.ContentCache
	Logger *zap.Logger
}

// New selects the dialect strategy declared by the endpoint config.
func New(cand *config.Candidate, opts Options) (Dialect, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := base{
		provider: cand.Provider,
		endpoint: cand.Endpoint,
		mode:     cand.Mode,
		modeName: cand.ModeName,
		creds:    opts.Credentials,
		logger:   logger.With(zap.String("provider", cand.Provider.Name)),
	}
	switch cand.Endpoint.Dialect {
	case config.DialectGemini:
		return &geminiDialect{base: b, cache: opts.Cache}, nil
	case config.DialectOpenAI, "":
		return &openaiDialect{base: b}, nil
	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown dialect %q", cand.Endpoint.Dialect)).
			WithProvider(cand.Provider.Name)
	}
}

// base holds the state shared by both dialect strategies.
type base struct {
	provider *config.ProviderConfig
	endpoint *config.EndpointConfig
	mode     *config.ModeConfig
	modeName string
	creds    account.CredentialProvider
	logger   *zap.Logger
}

func (b *base) ProviderName() string { return b.provider.Name }

func (b *base) baseURL() string {
	return strings.TrimRight(b.provider.BaseURL, "/")
}

func (b *base) authHeader() (http.Header, error) {
	return authHeaderFor(b.endpoint, b.provider, b.creds)
}

// authHeaderFor builds the auth headers for one call. Account mode
// fetches the token at call time; api mode uses the provider's static
// key. The executor reuses it for polling requests.
func authHeaderFor(ep *config.EndpointConfig, p *config.ProviderConfig, creds account.CredentialProvider) (http.Header, error) {
	h := http.Header{}
	if ep.Auth == config.AuthAccount {
		if creds == nil {
			return nil, types.NewError(types.ErrInvalidConfig,
				"endpoint uses account auth but no credential provider is configured").
				WithProvider(p.Name)
		}
		token, err := creds.CurrentToken()
		if err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "account token unavailable").
				WithProvider(p.Name).WithCause(err)
		}
		h.Set(account.TokenHeader, token)
		return h, nil
	}
	h.Set("Authorization", "Bearer "+p.APIKey)
	return h, nil
}

// prefixedParams copies the input params, applying the endpoint's prompt
// prefix when one is configured.
func (b *base) prefixedParams(in *Input) map[string]any {
	params := in.cloneParams()
	if b.endpoint.PromptPrefix == "" {
		return params
	}
	if prompt, ok := params["prompt"].(string); ok {
		params["prompt"] = b.endpoint.PromptPrefix + prompt
		b.logger.Debug("applied prompt prefix",
			zap.String("prefix", b.endpoint.PromptPrefix))
	}
	return params
}

// seedFrom extracts a positive seed from the params, tolerating the
// numeric types YAML and JSON decoding produce.
func seedFrom(params map[string]any) (int64, bool) {
	switch v := params["seed"].(type) {
	case int64:
		if v > 0 {
			return v, true
		}
	case int:
		if v > 0 {
			return int64(v), true
		}
	case float64:
		if v > 0 {
			return int64(v), true
		}
	}
	return 0, false
}
