package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/models"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveResizesLargeImage(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save(testPNG(t, 800, 600))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".jpg"))
	assert.NotContains(t, name, "-")

	raw, err := os.ReadFile(filepath.Join(store.Dir(), name))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	bounds := decoded.Bounds()
	assert.LessOrEqual(t, bounds.Dx(), ThumbnailSize)
	assert.LessOrEqual(t, bounds.Dy(), ThumbnailSize)

	// The WebP twin is written alongside.
	base := strings.TrimSuffix(name, ".jpg")
	_, err = os.Stat(filepath.Join(store.Dir(), base+".webp"))
	assert.NoError(t, err)
}

func TestSaveKeepsSmallImage(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save(testPNG(t, 40, 60))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(store.Dir(), name))
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 40, decoded.Bounds().Dx())
	assert.Equal(t, 60, decoded.Bounds().Dy())
}

func TestSaveRandomizesFilenames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	content := testPNG(t, 10, 10)
	first, err := store.Save(content)
	require.NoError(t, err)
	second, err := store.Save(content)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSaveRejectsBadInput(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for name, content := range map[string][]byte{
		"empty":     {},
		"text":      []byte("this is not an image at all, just plain text bytes"),
		"truncated": testPNG(t, 50, 50)[:20],
		"oversized": bytes.Repeat([]byte{0xff}, maxUploadBytes+1),
	} {
		_, err := store.Save(content)
		assert.True(t, models.IsCode(err, "VALIDATION_ERROR"), "case %s: %v", name, err)
	}
}

func TestEnsureDefault(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.EnsureDefault())

	raw, err := os.ReadFile(filepath.Join(store.Dir(), DefaultAvatar))
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, ThumbnailSize, decoded.Bounds().Dx())

	// Idempotent.
	require.NoError(t, store.EnsureDefault())
}

func TestRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureDefault())

	name, err := store.Save(testPNG(t, 10, 10))
	require.NoError(t, err)

	require.NoError(t, store.Remove(name))
	_, err = os.Stat(filepath.Join(store.Dir(), name))
	assert.True(t, os.IsNotExist(err))

	// The default avatar is never removed, and missing files are not errors.
	require.NoError(t, store.Remove(DefaultAvatar))
	_, err = os.Stat(filepath.Join(store.Dir(), DefaultAvatar))
	assert.NoError(t, err)
	require.NoError(t, store.Remove("already-gone.jpg"))
}
