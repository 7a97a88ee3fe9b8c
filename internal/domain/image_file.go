package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxImageFileSize is the largest input image accepted, in bytes.
const MaxImageFileSize = 50 * 1024 * 1024

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
	".gif":  true,
}

var supportedMIMETypes = []string{
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/bmp",
	"image/gif",
}

// ValidateInputs checks both images of a task.
func ValidateInputs(in ImageInputs) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := ValidateImageFile(in.BackgroundPath); err != nil {
		return fmt.Errorf("background: %w", err)
	}
	if err := ValidateImageFile(in.ProductPath); err != nil {
		return fmt.Errorf("product: %w", err)
	}
	return nil
}

// ValidateImageFile checks that path exists, has a supported extension, is
// within MaxImageFileSize and that its content sniffs as a supported image.
func ValidateImageFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrImageNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrImageCorrupted, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrImageNotFound, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if info.Size() > MaxImageFileSize {
		return fmt.Errorf("%w: %.1fMB exceeds %.1fMB", ErrImageTooLarge,
			float64(info.Size())/(1024*1024), float64(MaxImageFileSize)/(1024*1024))
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrImageCorrupted, path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageCorrupted, path, err)
	}
	if !IsSupportedImageType(mtype) {
		return fmt.Errorf("%w: %s has content type %s", ErrImageCorrupted, path, mtype.String())
	}

	return nil
}

// IsSupportedImageType reports whether a sniffed MIME type is an accepted image.
func IsSupportedImageType(mtype *mimetype.MIME) bool {
	for _, supported := range supportedMIMETypes {
		if mtype.Is(supported) {
			return true
		}
	}
	return false
}

// DetectImageType sniffs the MIME type of image bytes, e.g. "image/png".
func DetectImageType(data []byte) string {
	return mimetype.Detect(data).String()
}
