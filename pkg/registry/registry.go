// Package registry pulls container images from an OCI registry and flattens
// them into a single-layer rootfs archive suitable for injection into a
// device image. Nothing is ever executed; the payload is data.
package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/edgeimage/imagectl/pkg/errors"
	"github.com/edgeimage/imagectl/pkg/security"
	"github.com/google/go-containerregistry/pkg/crane"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	gzip "github.com/klauspost/pgzip"
)

// PullFlattened pulls ref for linux/<arch>, merges all layers into one
// rootfs tar, and writes it gzip-compressed to destTarGz. Returns the
// expanded (uncompressed) payload size.
func PullFlattened(ctx context.Context, ref, arch, destTarGz string, v *security.Validator) (int64, error) {
	slog.Info("registry_pull_started", "ref", ref, "arch", arch)

	img, err := crane.Pull(ref,
		crane.WithContext(ctx),
		crane.WithPlatform(&v1.Platform{OS: "linux", Architecture: arch}),
	)
	if err != nil {
		return 0, errors.Wrap(err, fmt.Sprintf("pulling %s for linux/%s", ref, arch))
	}

	flat := mutate.Extract(img)
	defer flat.Close()

	out, err := os.Create(destTarGz)
	if err != nil {
		return 0, errors.Tag(errors.ErrIO, err, fmt.Sprintf("create %s", destTarGz))
	}
	gz := gzip.NewWriter(out)

	expanded, err := io.Copy(gz, flat)
	if err != nil {
		gz.Close()
		out.Close()
		os.Remove(destTarGz)
		return 0, errors.Tag(errors.ErrIO, err, fmt.Sprintf("flattening %s", ref))
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(destTarGz)
		return 0, errors.Tag(errors.ErrCodec, err, fmt.Sprintf("compressing %s", destTarGz))
	}
	if err := out.Close(); err != nil {
		return 0, errors.Tag(errors.ErrIO, err, fmt.Sprintf("close %s", destTarGz))
	}

	if v != nil {
		if err := v.ValidatePayloadSize(expanded); err != nil {
			os.Remove(destTarGz)
			return 0, err
		}
		info, err := os.Stat(destTarGz)
		if err != nil {
			return 0, errors.Tag(errors.ErrIO, err, fmt.Sprintf("stat %s", destTarGz))
		}
		if err := v.ValidateCompressionRatio(info.Size(), expanded); err != nil {
			os.Remove(destTarGz)
			return 0, err
		}
	}

	slog.Info("registry_pull_complete", "ref", ref, "dest", destTarGz, "expanded_size", expanded)
	return expanded, nil
}
