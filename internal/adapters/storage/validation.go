package storage

import (
	"fmt"
	"strings"

	"crm_saas_backend/platform/apperr"
)

// AllowedContentTypes defines the allowed MIME types for uploads.
var AllowedContentTypes = map[string]bool{
	// Images
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,

	// Documents
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/zip":  true,
	"text/plain":       true,
	"text/csv":         true,
	"message/rfc822":   true,
	"application/json": true,

	// Audio (call recordings)
	"audio/mpeg": true,
	"audio/wav":  true,
	"audio/ogg":  true,
}

// NormalizeContentType lowercases and drops parameters like charset.
func NormalizeContentType(contentType string) string {
	normalized := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(normalized))
}

// ValidateContentType checks if the content type is allowed.
func ValidateContentType(contentType string) error {
	if !AllowedContentTypes[NormalizeContentType(contentType)] {
		return apperr.Validation(fmt.Sprintf("content type %q is not allowed", contentType))
	}
	return nil
}

// ValidateFileSize checks 0 < sizeBytes <= max. A max of 0 disables the upper bound.
func ValidateFileSize(sizeBytes, max int64) error {
	if sizeBytes <= 0 {
		return apperr.Validation("file size must be greater than 0")
	}
	if max > 0 && sizeBytes > max {
		return apperr.Validation(fmt.Sprintf("file size %d exceeds maximum allowed size of %d bytes", sizeBytes, max))
	}
	return nil
}
