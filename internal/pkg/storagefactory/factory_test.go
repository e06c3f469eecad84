package storagefactory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"pomelo/internal/config"
)

func localConfig(t *testing.T) *config.StorageConfig {
	return &config.StorageConfig{
		Type: "local",
		Local: &config.LocalConfig{
			BasePath:      t.TempDir(),
			BaseURL:       "http://localhost:8080/storage",
			PresignExpiry: 3600,
		},
	}
}

func TestNewStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr bool
	}{
		{"local storage", localConfig(t), false},
		{"missing local config", &config.StorageConfig{Type: "local"}, true},
		{"missing oss config", &config.StorageConfig{Type: "oss"}, true},
		{"s3 not implemented", &config.StorageConfig{Type: "s3"}, true},
		{"unsupported type", &config.StorageConfig{Type: "invalid"}, true},
		{"empty type", &config.StorageConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStorage(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewStorage() expected error, got storage %v", store)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStorage() error = %v", err)
			}
			if store.GetStorageType() != "local" {
				t.Errorf("GetStorageType() = %q, want local", store.GetStorageType())
			}
		})
	}
}

// 本地后端的完整读写回路：上传、存在性、下载、文件信息、签名 URL、删除
func TestLocalStorageRoundTrip(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()

	store, err := NewStorage(ctx, cfg)
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	key := "attachments/u1/test.txt"
	content := "hello attachment"

	url, err := store.Upload(ctx, key, strings.NewReader(content), "text/plain")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	wantURL := cfg.Local.BaseURL + "/" + key
	if url != wantURL {
		t.Errorf("Upload() url = %q, want %q", url, wantURL)
	}

	exists, err := store.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	reader, err := store.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != content {
		t.Errorf("Download() content = %q, want %q", data, content)
	}

	info, err := store.GetFileInfo(ctx, key)
	if err != nil {
		t.Fatalf("GetFileInfo() error = %v", err)
	}
	if info.Key != key || info.Size != int64(len(content)) {
		t.Errorf("GetFileInfo() = %+v", info)
	}
	if info.ContentType != "text/plain" {
		t.Errorf("GetFileInfo() ContentType = %q, want text/plain", info.ContentType)
	}

	signed, err := store.GetPresignedDownloadURL(ctx, key, time.Hour)
	if err != nil {
		t.Fatalf("GetPresignedDownloadURL() error = %v", err)
	}
	if signed != wantURL {
		t.Errorf("GetPresignedDownloadURL() = %q, want %q", signed, wantURL)
	}

	uploadURL, err := store.GetPresignedUploadURL(ctx, "attachments/u1/next.png", "image/png", time.Hour)
	if err != nil {
		t.Fatalf("GetPresignedUploadURL() error = %v", err)
	}
	if !strings.Contains(uploadURL, cfg.Local.BaseURL) {
		t.Errorf("GetPresignedUploadURL() = %q, should contain base URL", uploadURL)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	exists, err = store.Exists(ctx, key)
	if err != nil || exists {
		t.Errorf("Exists() after delete = %v, %v, want false", exists, err)
	}
}

func TestLocalStorageMissingKey(t *testing.T) {
	ctx := context.Background()
	store, err := NewStorage(ctx, localConfig(t))
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	missing := "attachments/u1/missing.txt"

	if _, err := store.Download(ctx, missing); err == nil {
		t.Error("Download() should fail for a missing key")
	}
	if _, err := store.GetFileInfo(ctx, missing); err == nil {
		t.Error("GetFileInfo() should fail for a missing key")
	}
	// 幂等删除：key 不存在也算成功
	if err := store.Delete(ctx, missing); err != nil {
		t.Errorf("Delete() error = %v, want nil for a missing key", err)
	}
}
