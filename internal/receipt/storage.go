package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage. The path
// returned by Save becomes the receipt's image address.
type Storage interface {
	// Save saves an image and returns its address
	Save(filename string, data []byte) (string, error)

	// Get retrieves an image by address
	Get(imageAddress string) ([]byte, error)

	// Delete removes an image
	Delete(imageAddress string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save saves an image to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return filename, nil
}

// Get retrieves an image from local storage
func (l *LocalStorage) Get(imageAddress string) ([]byte, error) {
	fullPath := filepath.Join(l.basePath, imageAddress)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// Delete removes an image from local storage
func (l *LocalStorage) Delete(imageAddress string) error {
	fullPath := filepath.Join(l.basePath, imageAddress)
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}

// ContentTypeForImage maps an image address back to the MIME type that was
// uploaded, by extension. The store keeps no sidecar metadata.
func ContentTypeForImage(imageAddress string) string {
	switch strings.ToLower(filepath.Ext(imageAddress)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
