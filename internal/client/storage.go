package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"formrelay/pkg/api"
)

// UploadForm carries the optional upload fields. Name and Ext together
// choose the object key.
type UploadForm struct {
	Name string
	Ext  string
	Type string
}

// Upload posts the file at path to /api/upload.
func (c *Client) Upload(ctx context.Context, path string, form UploadForm) (*api.UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for field, value := range map[string]string{"name": form.Name, "ext": form.Ext, "type": form.Type} {
		if value == "" {
			continue
		}
		if err := writer.WriteField(field, value); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err = io.Copy(part, file); err != nil {
		return nil, err
	}
	if err = writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result api.UploadResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
