package health

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeLogFilenameStripsPath(t *testing.T) {
	name, ok := safeLogFilename("../../etc/passwd")
	require.True(t, ok)
	require.Equal(t, "passwd", name)
}

func TestSafeLogFilenameRejectsEmpty(t *testing.T) {
	_, ok := safeLogFilename("   ")
	require.False(t, ok)
}

func TestFormatByteSize(t *testing.T) {
	require.Equal(t, "512 B", formatByteSize(512))
	require.Equal(t, "1.00 KB", formatByteSize(1024))
	require.Equal(t, "2.50 MB", formatByteSize(5*1<<19))
}
