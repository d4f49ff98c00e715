package types

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUpload(t *testing.T) {
	raw := []byte("fake-png-bytes")
	b64 := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain base64", input: b64},
		{name: "data url prefix stripped", input: "data:image/png;base64," + b64},
		{name: "invalid base64", input: "!!not-base64!!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeUpload("image", "input.png", "image/png", tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, raw, f.Data)
			assert.Equal(t, b64, f.Base64)
			assert.Equal(t, "image", f.FieldName)
		})
	}
}

func TestUploadFileEncodedData(t *testing.T) {
	f := &UploadFile{Data: []byte{1, 2, 3}}
	assert.Equal(t, base64.StdEncoding.EncodeToString(f.Data), f.EncodedData())

	// A cached encoding wins over re-encoding.
	f.Base64 = "cached"
	assert.Equal(t, "cached", f.EncodedData())
}

func TestUploadFileDataURL(t *testing.T) {
	f := &UploadFile{Data: []byte("x"), MimeType: "image/jpeg"}
	assert.Equal(t, "data:image/jpeg;base64,eA==", f.DataURL())

	// Missing mime type defaults to PNG.
	f = &UploadFile{Data: []byte("x")}
	assert.Equal(t, "data:image/png;base64,eA==", f.DataURL())
}

func TestFailHelpers(t *testing.T) {
	r := Fail("boom")
	assert.False(t, r.Success)
	assert.Equal(t, "boom", r.ErrorMessage)
	assert.Equal(t, StatusFailed, r.Status)

	r = FailErr(NewError(ErrPollTimeout, "Polling timeout after 600s"))
	assert.False(t, r.Success)
	assert.Contains(t, r.ErrorMessage, "POLL_TIMEOUT")
}

func TestBatchItemResultFailed(t *testing.T) {
	tests := []struct {
		name string
		item BatchItemResult
		want bool
	}{
		{name: "error set", item: BatchItemResult{Err: "failed"}, want: true},
		{name: "no output", item: BatchItemResult{}, want: true},
		{name: "images only", item: BatchItemResult{Images: [][]byte{{1}}}, want: false},
		{name: "urls only", item: BatchItemResult{URLs: []string{"u"}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Failed())
		})
	}
}
