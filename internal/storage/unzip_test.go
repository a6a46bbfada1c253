package storage

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/dataforge/fetcher/internal/model"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestUnzipDecoratorExtractsMembersForExtensionlessName(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inner := NewFileSink(dir, "", nil)
	dec := NewUnzipDecorator(inner, nil)

	sctx, err := dec.StartBundle(ctx, model.BundleRef{}, &model.FetcherRecipe{})
	if err != nil {
		t.Fatalf("StartBundle: %v", err)
	}

	archive := buildZip(t, map[string]string{"report.csv": "a,b,c"})

	// content-type alone never bypasses extraction (only the .zip suffix
	// does), so an extensionless name with a zip content-type is still
	// probed and extracted.
	if err := sctx.AddResource(ctx, "download", model.ResourceMeta{ContentType: "application/zip"}, bytes.NewReader(archive)); err != nil {
		t.Fatalf("AddResource: %v", err)
	}

	bid := string(sctx.Ref().BID)
	bidDir := filepath.Join(dir, bid)

	memberHash := sha256.Sum256([]byte("download/report.csv"))
	memberPath := filepath.Join(bidDir, hex.EncodeToString(memberHash[:]))
	data, err := os.ReadFile(memberPath)
	if err != nil {
		t.Fatalf("expected extracted zip member at %s: %v", memberPath, err)
	}
	if string(data) != "a,b,c" {
		t.Fatalf("extracted member = %q, want %q", data, "a,b,c")
	}
}

func TestUnzipDecoratorBypassesOnSuffixOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inner := NewFileSink(dir, "", nil)
	dec := NewUnzipDecorator(inner, nil)

	sctx, err := dec.StartBundle(ctx, model.BundleRef{}, &model.FetcherRecipe{})
	if err != nil {
		t.Fatalf("StartBundle: %v", err)
	}

	archive := buildZip(t, map[string]string{"report.csv": "a,b,c"})
	if err := sctx.AddResource(ctx, "archive.zip", model.ResourceMeta{}, bytes.NewReader(archive)); err != nil {
		t.Fatalf("AddResource: %v", err)
	}

	bid := string(sctx.Ref().BID)
	entries, err := os.ReadDir(filepath.Join(dir, bid))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "archive" {
		t.Fatalf("expected bypass to store exactly the stripped-name archive, got %v", entries)
	}
}

func TestIsZipBypassIgnoresContentType(t *testing.T) {
	if isZipBypass("download") {
		t.Fatalf("extensionless name must not bypass regardless of content type")
	}
	if !isZipBypass("archive.zip") {
		t.Fatalf(".zip suffix must bypass")
	}
}
