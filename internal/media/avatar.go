// Package media handles profile picture upload, resizing, and storage.
package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif" // register GIF decoder
	_ "image/png" // register PNG decoder

	"quill/internal/models"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// ThumbnailSize is the fixed bound profile pictures are scaled into.
	ThumbnailSize = 125

	// DefaultAvatar is the placeholder filename new accounts start with.
	DefaultAvatar = "default.jpg"

	maxUploadBytes = 5 * 1024 * 1024
	jpegQuality    = 82
	webpQuality    = 70
)

// Store writes profile pictures into a static directory. Filenames are
// randomly generated, which is the only guard against concurrent uploads.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory avatars are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Save validates the uploaded image, scales it to fit the thumbnail bound,
// and writes it under a random basename as both JPEG and WebP. It returns
// the JPEG filename to persist on the user.
func (s *Store) Save(content []byte) (string, error) {
	if len(content) == 0 {
		return "", models.NewValidationError("no file uploaded")
	}
	if len(content) > maxUploadBytes {
		return "", models.NewValidationError("profile picture is too large (max 5MB)")
	}

	if !isAllowedImageMIME(http.DetectContentType(content)) {
		return "", models.NewValidationError("profile picture must be a JPEG, PNG, GIF, or WebP image")
	}

	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return "", models.NewValidationError("invalid image file")
	}

	thumb := resizeToFit(decoded, ThumbnailSize, ThumbnailSize)

	// Random basename prevents overwrites and path traversal via the
	// client-supplied filename, which is discarded entirely.
	base := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := s.writeImagePair(base, thumb); err != nil {
		return "", models.NewInternalError(err)
	}

	return base + ".jpg", nil
}

// EnsureDefault writes the placeholder avatar if it does not exist yet, so a
// fresh deployment serves a valid image without committed binary assets.
func (s *Store) EnsureDefault() error {
	path := filepath.Join(s.dir, DefaultAvatar)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	img := image.NewRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	fill := color.RGBA{R: 0x8e, G: 0x9a, B: 0xaf, A: 0xff}
	for y := 0; y < ThumbnailSize; y++ {
		for x := 0; x < ThumbnailSize; x++ {
			img.Set(x, y, fill)
		}
	}
	return s.writeImagePair(strings.TrimSuffix(DefaultAvatar, ".jpg"), img)
}

// Remove deletes a stored avatar pair. The default avatar is never removed.
func (s *Store) Remove(filename string) error {
	if filename == "" || filename == DefaultAvatar {
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if err := os.Remove(filepath.Join(s.dir, base+".jpg")); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, base+".webp")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) writeImagePair(base string, img image.Image) error {
	jpgBytes, err := encodeJPEG(img, jpegQuality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, base+".jpg"), jpgBytes, 0o600); err != nil {
		return err
	}

	webpBytes, err := encodeWebP(img, webpQuality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, base+".webp"), webpBytes, 0o600); err != nil {
		_ = os.Remove(filepath.Join(s.dir, base+".jpg"))
		return err
	}
	return nil
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}
