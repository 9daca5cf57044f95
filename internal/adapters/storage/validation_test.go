package storage

import (
	"strings"
	"testing"

	"crm_saas_backend/platform/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateContentType(t *testing.T) {
	require.NoError(t, ValidateContentType("application/pdf"))
	require.NoError(t, ValidateContentType("Text/CSV; charset=utf-8"))

	err := ValidateContentType("application/x-msdownload")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidateFileSize(t *testing.T) {
	assert.Error(t, ValidateFileSize(0, 100))
	assert.Error(t, ValidateFileSize(101, 100))
	assert.NoError(t, ValidateFileSize(100, 100))
	assert.NoError(t, ValidateFileSize(1<<40, 0))
}

func TestObjectKeyKeepsExtensionAndFolder(t *testing.T) {
	key := ObjectKey("tenant/Lead/123", "../../etc/quote final.pdf")

	assert.True(t, strings.HasPrefix(key, "tenant/Lead/123/quote final_"), key)
	assert.True(t, strings.HasSuffix(key, ".pdf"), key)
	assert.NotContains(t, key, "..")
	assert.NotEqual(t, key, ObjectKey("tenant/Lead/123", "quote final.pdf"))
}
