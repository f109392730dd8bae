package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"faceforward/domain/services"
)

// Image is a decoded photo with EXIF orientation already applied.
type Image struct {
	Img         image.Image
	Width       int
	Height      int
	Orientation int
	TakenAt     *time.Time
}

// Load reads and decodes a photo. Data that cannot be decoded, or a file
// that no longer exists, is unprocessable. Other read errors are transient.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Unprocessable("source missing: %s", path)
		}
		return nil, services.Transient("read "+path, err)
	}
	return DecodeBytes(data, path)
}

// DecodeBytes decodes image data; name selects the HEIC path by extension.
func DecodeBytes(data []byte, name string) (*Image, error) {
	var img image.Image
	var err error

	if IsHEIC(name) {
		img, err = goheif.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, services.Unprocessable("decode %s: %v", filepath.Base(name), err)
	}

	orientation, takenAt := readEXIF(data, name)
	img = applyOrientation(img, orientation)

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, services.Unprocessable("decode %s: empty image", filepath.Base(name))
	}

	return &Image{
		Img:         img,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Orientation: orientation,
		TakenAt:     takenAt,
	}, nil
}

// ReadTakenAt returns the EXIF capture time, or nil when the file has none.
func ReadTakenAt(path string) *time.Time {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	_, takenAt := readEXIF(data, path)
	return takenAt
}

// readEXIF returns the orientation (1 when unknown) and capture time.
func readEXIF(data []byte, name string) (int, *time.Time) {
	var r io.Reader = bytes.NewReader(data)
	if IsHEIC(name) {
		raw, err := goheif.ExtractExif(bytes.NewReader(data))
		if err != nil {
			return 1, nil
		}
		r = bytes.NewReader(raw)
	}

	x, err := exif.Decode(r)
	if err != nil {
		return 1, nil
	}

	orientation := 1
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			orientation = v
		}
	}

	var takenAt *time.Time
	if t, err := x.DateTime(); err == nil && !t.IsZero() {
		takenAt = &t
	}
	return orientation, takenAt
}

// applyOrientation corrects image orientation based on EXIF data
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		// Transpose (flip horizontal + rotate 270)
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		// Rotate 90 CW
		return imaging.Rotate270(img)
	case 7:
		// Transverse (flip horizontal + rotate 90)
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		// Rotate 90 CCW
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// EncodeForDetection returns a JPEG no larger than maxSide on its long edge.
func (i *Image) EncodeForDetection(maxSide int) ([]byte, error) {
	img := i.Img
	if i.Width > maxSide || i.Height > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode detection image: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteThumbnail saves a JPEG thumbnail bounded by size on both edges.
func (i *Image) WriteThumbnail(dst string, size int) error {
	thumb := imaging.Fit(i.Img, size, size, imaging.Lanczos)

	return writeAtomic(dst, func(w io.Writer) error {
		return jpeg.Encode(w, thumb, &jpeg.Options{Quality: 85})
	})
}

// CopyFile copies src to dst through a temp file in dst's directory, so a
// reader never sees a partial copy. An existing dst is replaced.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func writeAtomic(dst string, write func(io.Writer) error) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
