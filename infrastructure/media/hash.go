package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"faceforward/domain/services"
)

// ComputeHash computes the SHA256 hash of a reader
func ComputeHash(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return ComputeHash(f)
}

// HashFile hashes a file, retrying while the writer still holds it open or
// locked. A missing file is returned at once. When every attempt fails the
// error is transient: the next scan will try again.
func HashFile(ctx context.Context, path string, attempts int, delay time.Duration) (string, int64, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		hash, size, err := hashFile(path)
		if err == nil {
			return hash, size, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(delay * time.Duration(attempt)):
		}
	}
	return "", 0, services.Transient("hash "+path, fmt.Errorf("after %d attempts: %w", attempts, lastErr))
}
