package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/breaker"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// ArtifactStore persists generated artifacts and returns their public
// location.
type ArtifactStore interface {
	Store(data []byte, contentType, objectKey string) (string, error)
}

// DefaultArtifactStore is swappable in tests.
var DefaultArtifactStore ArtifactStore = &OSSArtifactStore{}

// fetchArtifact downloads the provider's artifact. Package-level for the
// same reason.
var fetchArtifact = func(url string) ([]byte, string, error) {
	client := utils.NewHTTPClient(120 * time.Second)
	resp, err := client.Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download artifact: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("artifact download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// StoreArtifactFromURL downloads the provider artifact and persists it,
// both behind the storage-class circuit breaker. Returns the stored
// location.
func StoreArtifactFromURL(gen *models.Generation, artifactURL string) (string, error) {
	var location string
	err := breaker.Execute("oss", breaker.ClassStorage, func() error {
		data, contentType, err := fetchArtifact(artifactURL)
		if err != nil {
			return err
		}

		objectKey := artifactObjectKey(gen, artifactURL)
		loc, err := DefaultArtifactStore.Store(data, contentType, objectKey)
		if err != nil {
			return err
		}
		location = loc
		return nil
	})
	return location, err
}

// artifactObjectKey builds a collision-free object key, keeping the
// source extension when it looks sane.
func artifactObjectKey(gen *models.Generation, artifactURL string) string {
	ext := ""
	trimmed := artifactURL
	if idx := strings.IndexAny(trimmed, "?#"); idx != -1 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "."); idx != -1 {
		candidate := trimmed[idx:]
		if len(candidate) < 10 && !strings.Contains(candidate, "/") {
			ext = candidate
		}
	}
	now := time.Now()
	return fmt.Sprintf("generations/%d/%02d/%s_%s%s", now.Year(), now.Month(), gen.ID, uuid.New().String(), ext)
}

// OSSArtifactStore uploads artifacts to Aliyun OSS using short-lived STS
// credentials.
type OSSArtifactStore struct{}

func (s *OSSArtifactStore) Store(data []byte, contentType, objectKey string) (string, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return "", err
	}
	if cfg.OSSBucketName == "" {
		return "", errors.New("oss storage not configured")
	}

	stsCreds, err := GetOSSTSToken()
	if err != nil {
		return "", fmt.Errorf("failed to get STS token: %v", err)
	}

	client, err := oss.New(
		cfg.OSSEndpoint,
		stsCreds.AccessKeyId,
		stsCreds.AccessKeySecret,
		oss.SecurityToken(stsCreds.SecurityToken),
		oss.Timeout(60, 120),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create OSS client: %v", err)
	}

	bucket, err := client.Bucket(cfg.OSSBucketName)
	if err != nil {
		return "", fmt.Errorf("failed to get bucket: %v", err)
	}

	options := []oss.Option{}
	if contentType != "" {
		options = append(options, oss.ContentType(contentType))
	}
	if err := bucket.PutObject(objectKey, bytes.NewReader(data), options...); err != nil {
		return "", fmt.Errorf("upload failed: %v", err)
	}

	endpoint := cfg.OSSEndpoint
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "https://" + endpoint
	}
	parts := strings.SplitN(endpoint, "://", 2)
	return fmt.Sprintf("%s://%s.%s/%s", parts[0], cfg.OSSBucketName, parts[1], objectKey), nil
}
