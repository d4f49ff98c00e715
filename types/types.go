// Package types defines the records exchanged between the request pipeline
// and its collaborators: generation requests, provider responses, batch
// aggregates, and the unified error type.
package types

import (
	"encoding/base64"
	"strings"
)

// Status tracks the lifecycle of an async provider task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// UploadFile is one input image attached to a generation request. The byte
// buffer is shared read-only across every batch item spawned from one
// request; Base64 optionally carries a pre-encoded copy so JSON dialects
// don't re-encode per item.
type UploadFile struct {
	FieldName string
	Filename  string
	Data      []byte
	MimeType  string
	Base64    string
}

// EncodedData returns the base64 encoding of the file, using the cached
// copy when present.
func (f *UploadFile) EncodedData() string {
	if f.Base64 != "" {
		return f.Base64
	}
	return base64.StdEncoding.EncodeToString(f.Data)
}

// DataURL returns the file as a data URL for chat-style JSON payloads.
func (f *UploadFile) DataURL() string {
	mime := f.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + f.EncodedData()
}

// DecodeUpload builds an UploadFile from host-supplied base64 input,
// stripping a data-URL prefix when present. The decoded bytes and the
// original base64 are both kept so each dialect can pick its cheaper form.
func DecodeUpload(fieldName, filename, mimeType, b64 string) (*UploadFile, error) {
	if i := strings.IndexByte(b64, ','); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return &UploadFile{
		FieldName: fieldName,
		Filename:  filename,
		Data:      data,
		MimeType:  mimeType,
		Base64:    b64,
	}, nil
}

// APIResponse is the uniform result of one provider call, regardless of
// dialect or completion model.
type APIResponse struct {
	Success      bool
	Images       [][]byte
	ImageURLs    []string
	Raw          map[string]any
	ErrorMessage string
	TaskID       string
	Status       Status
}

// Fail builds a failed APIResponse from an error message.
func Fail(message string) *APIResponse {
	return &APIResponse{Success: false, ErrorMessage: message, Status: StatusFailed}
}

// FailErr builds a failed APIResponse from an error.
func FailErr(err error) *APIResponse {
	return &APIResponse{Success: false, ErrorMessage: err.Error(), Status: StatusFailed}
}

// BatchItemResult is the outcome of one batch item, tagged with its
// original index so the aggregate can be reassembled in request order.
type BatchItemResult struct {
	Index  int
	Seed   int64
	Images [][]byte
	URLs   []string
	Err    string
}

// Failed reports whether the item produced no usable output.
func (r *BatchItemResult) Failed() bool {
	return r.Err != "" || (len(r.Images) == 0 && len(r.URLs) == 0)
}

// BatchResult aggregates every item of one logical generation request.
// Items are ordered by batch index regardless of completion order.
// Success is false only when every item failed.
type BatchResult struct {
	Success     bool
	Items       []BatchItemResult
	Log         string
	LastURL     string
	ContentHash string
}

// ProgressFunc is invoked after each batch item completes, in completion
// order, tagged with the item's original index.
type ProgressFunc func(index, total int, preview [][]byte)
