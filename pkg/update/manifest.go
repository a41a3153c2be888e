// Package update generates import manifests for the device update
// service, describing a provisioned image artifact so the service can
// validate and distribute it.
package update

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edgeimage/imagectl/pkg/errors"
)

// ManifestVersion is the import manifest schema version understood by the
// update service.
const ManifestVersion = "4.0"

// UpdateID identifies an update in the service.
type UpdateID struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

// Compatibility describes one device class the update applies to.
type Compatibility struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Compat       string `json:"compatibilityid,omitempty"`
}

// Step is one installation instruction.
type Step struct {
	Type              string            `json:"type,omitempty"`
	Handler           string            `json:"handler"`
	Files             []string          `json:"files"`
	HandlerProperties map[string]string `json:"handlerProperties,omitempty"`
}

// FileEntry describes one payload file with its integrity hash.
type FileEntry struct {
	Filename    string `json:"filename"`
	SizeInBytes int64  `json:"sizeInBytes"`
	Hashes      struct {
		Sha256 string `json:"sha256"`
	} `json:"hashes"`
}

// Manifest is the import manifest document.
type Manifest struct {
	UpdateID      UpdateID        `json:"updateId"`
	IsDeployable  bool            `json:"isDeployable"`
	Compatibility []Compatibility `json:"compatibility"`
	Instructions  struct {
		Steps []Step `json:"steps"`
	} `json:"instructions"`
	Files           []FileEntry `json:"files"`
	CreatedDateTime string      `json:"createdDateTime"`
	ManifestVersion string      `json:"manifestVersion"`
}

// Params collects the caller-supplied fields of a manifest.
type Params struct {
	Provider     string
	Name         string
	Version      string
	Manufacturer string
	Model        string
	CompatID     string
	Handler      string
	ScriptPath   string
}

// DefaultHandler installs a full image via swupdate.
const DefaultHandler = "microsoft/swupdate:2"

// CreateImportManifest writes <image>.importManifest.json next to the
// image artifact and returns its path. The image and optional install
// script are hashed and listed as payload files.
func CreateImportManifest(imagePath string, p Params) (string, error) {
	slog.Info("manifest_generation_started", "image", imagePath, "version", p.Version)

	if p.Handler == "" {
		p.Handler = DefaultHandler
	}

	var m Manifest
	m.UpdateID = UpdateID{Provider: p.Provider, Name: p.Name, Version: p.Version}
	m.IsDeployable = true
	m.Compatibility = []Compatibility{{
		Manufacturer: p.Manufacturer,
		Model:        p.Model,
		Compat:       p.CompatID,
	}}
	m.CreatedDateTime = time.Now().UTC().Format(time.RFC3339)
	m.ManifestVersion = ManifestVersion

	payloads := []string{imagePath}
	if p.ScriptPath != "" {
		payloads = append(payloads, p.ScriptPath)
	}

	stepFiles := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		entry, err := hashFile(payload)
		if err != nil {
			return "", err
		}
		m.Files = append(m.Files, entry)
		stepFiles = append(stepFiles, entry.Filename)
	}

	m.Instructions.Steps = []Step{{
		Handler: p.Handler,
		Files:   stepFiles,
		HandlerProperties: map[string]string{
			"installedCriteria": p.Version,
		},
	}}

	manifestPath := imagePath + ".importManifest.json"
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal manifest")
	}
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return "", errors.Tag(errors.ErrIO, err, fmt.Sprintf("write %s", manifestPath))
	}

	slog.Info("manifest_generation_complete", "manifest", manifestPath, "files", len(m.Files))
	return manifestPath, nil
}

// hashFile produces the payload entry for one file: basename, size, and
// base64-encoded sha256 as the update service expects.
func hashFile(path string) (FileEntry, error) {
	var entry FileEntry

	f, err := os.Open(path)
	if err != nil {
		return entry, errors.Tag(errors.ErrNotFound, err, fmt.Sprintf("open payload %s", path))
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return entry, errors.Tag(errors.ErrIO, err, fmt.Sprintf("hash payload %s", path))
	}

	entry.Filename = filepath.Base(path)
	entry.SizeInBytes = size
	entry.Hashes.Sha256 = base64.StdEncoding.EncodeToString(hash.Sum(nil))
	return entry, nil
}
