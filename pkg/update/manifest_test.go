package update

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeimage/imagectl/pkg/errors"
)

func TestCreateImportManifest(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "device.wic.xz")
	content := []byte("compressed image bytes")
	if err := os.WriteFile(image, content, 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	manifestPath, err := CreateImportManifest(image, Params{
		Provider:     "edgeimage",
		Name:         "gateway-os",
		Version:      "4.2.1",
		Manufacturer: "edgeimage",
		Model:        "gateway-mk2",
	})
	if err != nil {
		t.Fatalf("manifest generation failed: %v", err)
	}
	if manifestPath != image+".importManifest.json" {
		t.Errorf("unexpected manifest path: %s", manifestPath)
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}

	if m.UpdateID.Version != "4.2.1" || m.UpdateID.Provider != "edgeimage" {
		t.Errorf("unexpected update id: %+v", m.UpdateID)
	}
	if m.ManifestVersion != ManifestVersion {
		t.Errorf("manifest version = %s, want %s", m.ManifestVersion, ManifestVersion)
	}
	if len(m.Files) != 1 {
		t.Fatalf("expected 1 payload file, got %d", len(m.Files))
	}
	if m.Files[0].Filename != "device.wic.xz" || m.Files[0].SizeInBytes != int64(len(content)) {
		t.Errorf("unexpected file entry: %+v", m.Files[0])
	}

	sum := sha256.Sum256(content)
	if m.Files[0].Hashes.Sha256 != base64.StdEncoding.EncodeToString(sum[:]) {
		t.Error("payload sha256 mismatch")
	}

	if len(m.Instructions.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(m.Instructions.Steps))
	}
	step := m.Instructions.Steps[0]
	if step.Handler != DefaultHandler {
		t.Errorf("handler = %s, want %s", step.Handler, DefaultHandler)
	}
	if step.HandlerProperties["installedCriteria"] != "4.2.1" {
		t.Errorf("unexpected handler properties: %+v", step.HandlerProperties)
	}
}

func TestCreateImportManifest_WithScript(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "device.wic")
	script := filepath.Join(dir, "install.sh")
	os.WriteFile(image, []byte("image"), 0644)
	os.WriteFile(script, []byte("#!/bin/sh\n"), 0755)

	manifestPath, err := CreateImportManifest(image, Params{
		Provider:   "edgeimage",
		Name:       "gateway-os",
		Version:    "1.0.0",
		Handler:    "microsoft/script:1",
		ScriptPath: script,
	})
	if err != nil {
		t.Fatalf("manifest generation failed: %v", err)
	}

	data, _ := os.ReadFile(manifestPath)
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("expected 2 payload files, got %d", len(m.Files))
	}
	if len(m.Instructions.Steps[0].Files) != 2 {
		t.Errorf("expected both payloads in step files: %+v", m.Instructions.Steps[0].Files)
	}
}

func TestCreateImportManifest_MissingPayload(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateImportManifest(filepath.Join(dir, "missing.wic"), Params{
		Provider: "edgeimage",
		Name:     "gateway-os",
		Version:  "1.0.0",
	})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing payload, got %v", err)
	}
}
