package cam

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageNotFound is returned by an ImageSource for an unknown reference
var ErrImageNotFound = errors.New("image not found")

// ImageSource resolves an image object's source reference to a bitmap
type ImageSource interface {
	Bitmap(ref string) (image.Image, error)
}

// DecodeBitmap decodes an encoded image payload (PNG, JPEG, GIF, BMP, TIFF
// or WebP).
func DecodeBitmap(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode bitmap: %w", err)
	}
	return img, nil
}

// BitmapStore is an in-memory ImageSource. Payloads are decoded once and
// cached.
type BitmapStore struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewBitmapStore creates an empty store
func NewBitmapStore() *BitmapStore {
	return &BitmapStore{images: make(map[string]image.Image)}
}

// Put registers an already decoded bitmap under ref
func (s *BitmapStore) Put(ref string, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[ref] = img
}

// PutEncoded decodes data and registers it under ref
func (s *BitmapStore) PutEncoded(ref string, data []byte) error {
	img, err := DecodeBitmap(data)
	if err != nil {
		return fmt.Errorf("%s: %w", ref, err)
	}
	s.Put(ref, img)
	return nil
}

// Bitmap implements ImageSource
func (s *BitmapStore) Bitmap(ref string) (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[ref]
	if !ok {
		return nil, ErrImageNotFound
	}
	return img, nil
}
