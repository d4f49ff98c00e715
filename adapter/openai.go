package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/template"
	"github.com/BaSui01/imageflow/types"
)

// autoParams are well-known parameters passed through to the payload when
// no template claims them.
var autoParams = []string{
	"prompt", "n", "size", "quality", "style", "resolution",
	"aspect_ratio", "seed", "response_format", "upscale", "image_size",
}

// openaiDialect builds flat REST requests for OpenAI-compatible APIs:
// JSON or multipart bodies, model auto-injection, and provider default
// parameter merging.
type openaiDialect struct {
	base
}

func (d *openaiDialect) Build(ctx context.Context, in *Input) (*Request, error) {
	params := d.prefixedParams(in)
	engine := template.NewEngine(d.mode.ValueMappings)

	// Chat-style templates embed images as data URLs; prepare them once
	// from the shared upload buffers.
	if template.References(d.mode.PayloadTemplate, "_chat_content") {
		urls := make([]string, 0, len(in.Uploads))
		for _, f := range in.Uploads {
			urls = append(urls, f.DataURL())
		}
		params[template.ParamImagesBase64] = urls
	}

	payload, _ := engine.Render(d.mode.PayloadTemplate, params).(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	if d.endpoint.ModelName != "" {
		if _, ok := payload["model"]; !ok {
			payload["model"] = d.endpoint.ModelName
		}
	}
	for _, name := range autoParams {
		if _, ok := payload[name]; ok {
			continue
		}
		if v, ok := params[name]; ok && v != nil && v != "" {
			payload[name] = v
		}
	}
	// Endpoint defaults never overwrite explicit values.
	for k, v := range d.endpoint.ExtraParams {
		if _, ok := payload[k]; !ok {
			payload[k] = v
		}
	}

	header, err := d.authHeader()
	if err != nil {
		return nil, err
	}

	req := &Request{
		URL:    d.baseURL() + d.mode.Path,
		Method: strings.ToUpper(d.mode.Method),
		Header: header,
	}
	if req.Method == "" {
		req.Method = "POST"
	}

	contentType := d.mode.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	switch contentType {
	case "application/json":
		req.ContentType = contentType
		req.JSON = payload
	case "multipart/form-data":
		req.Form = url.Values{}
		for k, v := range payload {
			// Image content travels as file parts, not form fields.
			if strings.HasPrefix(k, "image") {
				continue
			}
			req.Form.Set(k, fmt.Sprint(v))
		}
		req.Files = d.multipartFiles(in.Uploads)
		d.logger.Debug("multipart request",
			zap.Int("files", len(req.Files)),
			zap.String("file_format", d.fileFormat()))
	default:
		req.ContentType = contentType
		req.Form = url.Values{}
		for k, v := range payload {
			req.Form.Set(k, fmt.Sprint(v))
		}
	}
	return req, nil
}

// fileFormat resolves the multipart naming convention: mode over endpoint
// over provider, defaulting to same_name.
func (d *openaiDialect) fileFormat() string {
	for _, f := range []string{d.mode.FileFormat, d.endpoint.FileFormat, d.provider.FileFormat} {
		if f != "" {
			return f
		}
	}
	return config.FileFormatSameName
}

func (d *openaiDialect) fileField() string {
	for _, f := range []string{d.mode.FileField, d.endpoint.FileField, d.provider.FileField} {
		if f != "" {
			return f
		}
	}
	return "image"
}

// multipartFiles names the uploads according to the configured convention.
func (d *openaiDialect) multipartFiles(uploads []*types.UploadFile) []MultipartFile {
	format := d.fileFormat()
	field := d.fileField()
	files := make([]MultipartFile, 0, len(uploads))
	for i, f := range uploads {
		name := field
		switch format {
		case config.FileFormatIndexed:
			name = fmt.Sprintf("%s[%d]", field, i)
		case config.FileFormatArray:
			name = field + "[]"
		case config.FileFormatNumbered:
			name = fmt.Sprintf("%s%d", field, i+1)
		}
		files = append(files, MultipartFile{
			Field:    name,
			Filename: f.Filename,
			MimeType: f.MimeType,
			Data:     f.Data,
		})
	}
	return files
}

func (d *openaiDialect) Parse(body []byte) *types.APIResponse {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.Fail("Invalid JSON response: " + snippet(body, 200))
	}

	// Some aggregators proxy Gemini payloads through OpenAI-shaped
	// endpoints; a candidates key wins over the declared dialect.
	if _, ok := doc["candidates"]; ok {
		return parseGemini(doc, d.logger)
	}

	if d.mode.Completion == config.CompletionAsync {
		taskPath := d.mode.TaskIDPath
		if taskPath == "" {
			taskPath = "task_id"
		}
		if id, ok := firstString(doc, taskPath); ok && id != "" {
			return &types.APIResponse{
				Success: true,
				TaskID:  id,
				Status:  types.StatusPending,
				Raw:     doc,
			}
		}
	}

	responsePath := d.mode.ResponsePath
	if responsePath == "" {
		responsePath = "data[0].url"
	}
	urls, blobs := extractImages(doc, responsePath)
	if len(urls) == 0 && len(blobs) == 0 {
		return &types.APIResponse{
			Success:      false,
			ErrorMessage: "No images found in response",
			Raw:          doc,
			Status:       types.StatusFailed,
		}
	}
	return &types.APIResponse{
		Success:   true,
		Images:    blobs,
		ImageURLs: urls,
		Raw:       doc,
		Status:    types.StatusSucceeded,
	}
}
