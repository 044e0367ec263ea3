package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoConverter = errors.New("no PDF converter configured")

type doclingResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []any  `json:"errors"`
}

// DoclingConverter turns PDF files into markdown through a docling-serve
// instance.
type DoclingConverter struct {
	baseURL string
	client  *http.Client
}

func NewDoclingConverter(baseURL string, client *http.Client) *DoclingConverter {
	if client == nil {
		client = &http.Client{}
	}
	return &DoclingConverter{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *DoclingConverter) Convert(ctx context.Context, filePath string) (string, error) {
	if d == nil || d.baseURL == "" {
		return "", ErrNoConverter
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", filepath.Base(filePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	writer.WriteField("to_formats", "md")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/convert/file", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("docling request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("docling returned HTTP %d", resp.StatusCode)
	}

	var result doclingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding docling response: %w", err)
	}
	if strings.TrimSpace(result.Document.MdContent) == "" {
		return "", fmt.Errorf("docling returned no markdown (status %q)", result.Status)
	}

	return result.Document.MdContent, nil
}
