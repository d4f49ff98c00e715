package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/upload"
)

// imageSizeSentinels are UI values Gemini rejects; they are omitted from
// imageConfig rather than passed through.
var imageSizeSentinels = map[string]bool{
	"auto": true, "1k": true, "2k": true, "4k": true,
}

// geminiDialect builds native contents/parts documents. Uploads embed
// inline as base64, or by URI when a content cache is configured so
// identical bytes are uploaded once and referenced thereafter.
type geminiDialect struct {
	base
	cache upload.ContentCache
}

func (d *geminiDialect) Build(ctx context.Context, in *Input) (*Request, error) {
	params := d.prefixedParams(in)

	path := strings.ReplaceAll(d.mode.Path, "{{model}}", d.endpoint.ModelName)

	prompt, _ := params["prompt"].(string)
	parts := []any{map[string]any{"text": prompt}}
	for _, f := range in.Uploads {
		parts = append(parts, d.imagePart(ctx, f))
	}

	genCfg := make(map[string]any, len(d.mode.GenerationConfig)+3)
	for k, v := range d.mode.GenerationConfig {
		genCfg[k] = v
	}
	if rm, ok := d.endpoint.ExtraParams["responseModalities"]; ok {
		if _, present := genCfg["responseModalities"]; !present {
			genCfg["responseModalities"] = rm
		}
	}
	if seed, ok := seedFrom(params); ok {
		if _, present := genCfg["seed"]; !present {
			genCfg["seed"] = seed
		}
	}
	if imgCfg := d.imageConfig(params); len(imgCfg) > 0 {
		genCfg["imageConfig"] = imgCfg
	}
	if _, ok := genCfg["maxOutputTokens"]; !ok {
		genCfg["maxOutputTokens"] = 4096
	}

	header, err := d.authHeader()
	if err != nil {
		return nil, err
	}
	return &Request{
		URL:         d.baseURL() + path,
		Method:      "POST",
		Header:      header,
		ContentType: "application/json",
		JSON: map[string]any{
			"contents":         []any{map[string]any{"parts": parts}},
			"generationConfig": genCfg,
		},
	}, nil
}

// imagePart returns a file_data reference when the cache can serve one,
// otherwise an inline_data part with the cached base64 encoding.
func (d *geminiDialect) imagePart(ctx context.Context, f *types.UploadFile) map[string]any {
	mime := f.MimeType
	if mime == "" {
		mime = "image/png"
	}
	if d.cache != nil {
		uri, err := d.cache.GetOrUpload(ctx, f.Data, f.Filename, mime)
		if err != nil {
			d.logger.Warn("content cache upload failed, inlining image",
				zap.String("filename", f.Filename), zap.Error(err))
		} else if uri != "" {
			return map[string]any{
				"file_data": map[string]any{
					"mime_type": mime,
					"file_uri":  uri,
				},
			}
		}
	}
	return map[string]any{
		"inline_data": map[string]any{
			"mime_type": mime,
			"data":      f.EncodedData(),
		},
	}
}

// imageConfig filters the size and aspect-ratio params against values
// Gemini accepts. Sentinels like "auto" are omitted, never sent.
func (d *geminiDialect) imageConfig(params map[string]any) map[string]any {
	cfg := map[string]any{}
	if size, _ := params["image_size"].(string); size != "" {
		if !imageSizeSentinels[strings.ToLower(size)] {
			cfg["imageSize"] = size
		}
	}
	if ratio, _ := params["aspect_ratio"].(string); ratio != "" {
		if !strings.EqualFold(ratio, "auto") {
			cfg["aspectRatio"] = ratio
		}
	}
	return cfg
}

func (d *geminiDialect) Parse(body []byte) *types.APIResponse {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.Fail("Invalid JSON response: " + snippet(body, 200))
	}
	return parseGemini(doc, d.logger)
}

// parseGemini handles the contents/parts response shape, including the
// account-proxy envelope some aggregators wrap it in.
func parseGemini(doc map[string]any, logger *zap.Logger) *types.APIResponse {
	doc, failure := unwrapEnvelope(doc)
	if failure != nil {
		return failure
	}

	candidates, _ := doc["candidates"].([]any)
	if len(candidates) == 0 {
		return &types.APIResponse{
			Success:      false,
			ErrorMessage: "No candidates in Gemini response",
			Raw:          doc,
			Status:       types.StatusFailed,
		}
	}
	first, _ := candidates[0].(map[string]any)
	if reason, _ := first["finishReason"].(string); reason == "OTHER" {
		// The model declined the prompt; not a transport problem.
		return &types.APIResponse{
			Success:      false,
			ErrorMessage: "Gemini could not generate an image for this prompt (try a more descriptive prompt)",
			Raw:          doc,
			Status:       types.StatusFailed,
		}
	}

	var (
		images [][]byte
		urls   []string
	)
	content, _ := first["content"].(map[string]any)
	parts, _ := content["parts"].([]any)
	for _, p := range parts {
		part, _ := p.(map[string]any)
		if part == nil {
			continue
		}
		if inline := mapKey(part, "inlineData", "inline_data"); inline != nil {
			if b64, _ := inline["data"].(string); b64 != "" {
				data, err := base64.StdEncoding.DecodeString(b64)
				if err != nil {
					logger.Warn("failed to decode inline image data", zap.Error(err))
					continue
				}
				images = append(images, data)
			}
		}
		if fd := mapKey(part, "fileData", "file_data"); fd != nil {
			for _, key := range []string{"fileUri", "file_uri"} {
				if uri, _ := fd[key].(string); uri != "" {
					urls = append(urls, uri)
					break
				}
			}
		}
	}

	if len(images) == 0 && len(urls) == 0 {
		return &types.APIResponse{
			Success:      false,
			ErrorMessage: "No images found in Gemini response",
			Raw:          doc,
			Status:       types.StatusFailed,
		}
	}
	return &types.APIResponse{
		Success:   true,
		Images:    images,
		ImageURLs: urls,
		Raw:       doc,
		Status:    types.StatusSucceeded,
	}
}

// unwrapEnvelope removes one account-proxy level: {"code":0,"data":{...}}
// passes its data through, while a nonzero code becomes a typed business
// failure carrying the provider message.
func unwrapEnvelope(doc map[string]any) (map[string]any, *types.APIResponse) {
	code, hasCode := doc["code"]
	if !hasCode {
		return doc, nil
	}
	if n, ok := asFloat(code); ok && n != 0 {
		msg, _ := doc["errMsg"].(string)
		if msg == "" {
			msg = fmt.Sprintf("provider error code %v", code)
		}
		return nil, &types.APIResponse{
			Success:      false,
			ErrorMessage: msg,
			Raw:          doc,
			Status:       types.StatusFailed,
		}
	}
	if inner, ok := doc["data"].(map[string]any); ok {
		return inner, nil
	}
	return doc, nil
}

func mapKey(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
