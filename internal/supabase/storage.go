package supabase

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	storage "github.com/supabase-community/storage-go"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StorageClient archives generated reports in a Supabase storage bucket.
type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	if supabaseURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

// ReportPath places a report under reports/{yyyy}/{mm}/.
func ReportPath(generatedAt time.Time, filename string) string {
	return fmt.Sprintf("reports/%s/%s", generatedAt.UTC().Format("2006/01"), filename)
}

// UploadReport stores the workbook and returns its storage path and public URL.
func (s *StorageClient) UploadReport(generatedAt time.Time, filename string, data []byte) (string, string, error) {
	storagePath := ReportPath(generatedAt, filename)

	contentType := xlsxContentType
	upsert := true
	_, err := s.client.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload report: %w", err)
	}

	return storagePath, s.GetPublicURL(storagePath), nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		s.baseURL, s.bucket, storagePath)
}
