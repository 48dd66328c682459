package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	p := make([]byte, n)
	if _, err := rand.Read(p); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	return p
}

func addChecksum(p []byte) *uint32 {
	var sum uint32
	for _, b := range p {
		sum += uint32(b)
	}
	return &sum
}

func sha256Hex(p []byte) string {
	h := sha256.Sum256(p)
	return hex.EncodeToString(h[:])
}

func gzipped(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	return buf.Bytes()
}

func TestRawInstall(t *testing.T) {
	payload := randomPayload(t, 512)
	dest := filepath.Join(t.TempDir(), "slot-b.img")

	art := &types.ArtifactDescriptor{
		Type:        "raw",
		Category:    types.CategoryImage,
		Length:      int64(len(payload)),
		Destination: dest,
		Checksum:    addChecksum(payload),
	}
	cursor := handler.NewCursor(bytes.NewReader(append(bytes.Clone(payload), "trailer"...)))

	if err := (Raw{}).Install(context.Background(), art, cursor, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if cursor.Offset() != art.Length {
		t.Errorf("cursor offset = %d, want %d", cursor.Offset(), art.Length)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("destination content differs from payload")
	}
}

func TestRawInstalledSize(t *testing.T) {
	payload := randomPayload(t, 300)
	wire := gzipped(t, payload)

	tests := []struct {
		name          string
		installedSize int64
		wantErr       bool
	}{
		{"matches", 300, false},
		{"mismatch", 299, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := &types.ArtifactDescriptor{
				Type:          "raw",
				Category:      types.CategoryImage,
				Length:        int64(len(wire)),
				InstalledSize: tt.installedSize,
				Destination:   filepath.Join(t.TempDir(), "slot.img"),
				Compression:   "gzip",
				Digest:        sha256Hex(payload),
				DigestAlgo:    types.DigestSHA256,
			}
			cursor := handler.NewCursor(bytes.NewReader(wire))

			err := (Raw{}).Install(context.Background(), art, cursor, nil)
			if tt.wantErr && err == nil {
				t.Fatal("Install accepted an installed-size mismatch")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Install failed: %v", err)
			}
		})
	}
}

func TestRawRequiresDestination(t *testing.T) {
	art := &types.ArtifactDescriptor{Type: "raw", Category: types.CategoryImage, Length: 4}
	cursor := handler.NewCursor(strings.NewReader("data"))

	if err := (Raw{}).Install(context.Background(), art, cursor, nil); err == nil {
		t.Error("Install accepted an artifact without a destination")
	}
}

func TestFileInstallAtomic(t *testing.T) {
	payload := randomPayload(t, 256)
	dest := filepath.Join(t.TempDir(), "etc", "app.conf")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	art := &types.ArtifactDescriptor{
		Type:        "rawfile",
		Category:    types.CategoryFile,
		Length:      int64(len(payload)),
		Destination: dest,
		Checksum:    addChecksum(payload),
	}
	cursor := handler.NewCursor(bytes.NewReader(payload))

	if err := (File{}).Install(context.Background(), art, cursor, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("destination content differs from payload")
	}
	if _, err := os.Stat(dest + partSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Error("staging file left behind after install")
	}
}

func TestFileResumeFromStagedBytes(t *testing.T) {
	payload := randomPayload(t, 100)
	dest := filepath.Join(t.TempDir(), "data.bin")

	// 30 bytes were staged before the previous attempt was interrupted.
	if err := os.WriteFile(dest+partSuffix, payload[:30], 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	art := &types.ArtifactDescriptor{
		Type:        "rawfile",
		Category:    types.CategoryFile,
		Length:      100,
		Destination: dest,
		Checksum:    addChecksum(payload),
	}
	cursor := handler.NewCursor(bytes.NewReader(payload))

	if err := (File{}).Install(context.Background(), art, cursor, nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	// The full declared range was consumed and re-validated even though
	// only the unstaged remainder was written.
	if cursor.Offset() != 100 {
		t.Errorf("cursor offset = %d, want 100", cursor.Offset())
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("resumed install produced wrong content")
	}
}

func TestFileOversizedStagingDiscarded(t *testing.T) {
	payload := randomPayload(t, 50)
	dest := filepath.Join(t.TempDir(), "data.bin")

	// A staging file as large as the artifact cannot be a valid resume point.
	if err := os.WriteFile(dest+partSuffix, make([]byte, 50), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	art := &types.ArtifactDescriptor{
		Type:        "rawfile",
		Category:    types.CategoryFile,
		Length:      50,
		Destination: dest,
		Checksum:    addChecksum(payload),
	}

	if err := (File{}).Install(context.Background(), art, handler.NewCursor(bytes.NewReader(payload)), nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Error("stale staging bytes leaked into the installed file")
	}
}

func TestFileVerificationFailureDiscardsStaging(t *testing.T) {
	payload := randomPayload(t, 80)
	dest := filepath.Join(t.TempDir(), "data.bin")
	wrong := uint32(1)

	art := &types.ArtifactDescriptor{
		Type:        "rawfile",
		Category:    types.CategoryFile,
		Length:      80,
		Destination: dest,
		Checksum:    &wrong,
	}
	cursor := handler.NewCursor(bytes.NewReader(payload))

	err := (File{}).Install(context.Background(), art, cursor, nil)
	if !errors.Is(err, stream.ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	// The declared range was still fully consumed, keeping the stream framed.
	if cursor.Offset() != 80 {
		t.Errorf("cursor offset = %d, want 80", cursor.Offset())
	}
	if _, statErr := os.Stat(dest + partSuffix); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("unverified staging file left behind")
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("destination created despite verification failure")
	}
}

func TestFileModeProperty(t *testing.T) {
	payload := []byte("#!/bin/sh\nexit 0\n")
	dest := filepath.Join(t.TempDir(), "hook.sh")

	art := &types.ArtifactDescriptor{
		Type:        "rawfile",
		Category:    types.CategoryFile,
		Length:      int64(len(payload)),
		Destination: dest,
		Properties:  map[string]string{"mode": "0755"},
	}

	if err := (File{}).Install(context.Background(), art, handler.NewCursor(bytes.NewReader(payload)), nil); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %o, want 0755", info.Mode().Perm())
	}
}

func TestReadback(t *testing.T) {
	payload := randomPayload(t, 64)

	tests := []struct {
		name    string
		digest  string
		wantErr error
	}{
		{"digest matches", sha256Hex(payload), nil},
		{"digest mismatch", sha256Hex([]byte("other")), stream.ErrDigestMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := &types.ArtifactDescriptor{
				Type:       "readback",
				Category:   types.CategoryFile,
				Length:     64,
				Digest:     tt.digest,
				DigestAlgo: types.DigestSHA256,
			}
			cursor := handler.NewCursor(bytes.NewReader(payload))

			err := (Readback{}).Install(context.Background(), art, cursor, nil)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Install failed: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			// Verify-only still consumes the declared range exactly.
			if cursor.Offset() != 64 {
				t.Errorf("cursor offset = %d, want 64", cursor.Offset())
			}
		})
	}
}

func TestReadbackRequiresVerification(t *testing.T) {
	art := &types.ArtifactDescriptor{Type: "readback", Category: types.CategoryFile, Length: 4}
	cursor := handler.NewCursor(strings.NewReader("data"))

	if err := (Readback{}).Install(context.Background(), art, cursor, nil); err == nil {
		t.Error("Install accepted an artifact with nothing to verify")
	}
	if cursor.Offset() != 0 {
		t.Errorf("cursor offset = %d, want 0 (rejected before reading)", cursor.Offset())
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := handler.NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}

	for _, tag := range []string{"raw", "rawfile", "readback"} {
		if _, ok := r.Lookup(tag); !ok {
			t.Errorf("builtin %q not registered", tag)
		}
	}
	entry, _ := r.Lookup("raw")
	if entry.Capabilities.Has(types.CategoryFile) {
		t.Error("raw handler claims file capability")
	}
	if r.Frozen() {
		t.Error("RegisterBuiltins froze the registry")
	}
}
