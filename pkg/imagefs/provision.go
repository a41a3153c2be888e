package imagefs

import (
	"path"

	"github.com/edgeimage/imagectl/pkg/security"
)

// Partition labels of the provisioning-relevant filesystems in a device
// image, by convention of the image build.
const (
	// FactoryPartition holds device configuration applied on first boot.
	FactoryPartition = "factory"
	// CertPartition holds certificates and trust anchors.
	CertPartition = "cert"
)

// Fixed on-image destinations for the provisioning writers.
const (
	identityConfigPath  = "/etc/aziot/config.toml"
	identityPayloadDir  = "/etc/aziot/payload"
	deviceCertPath      = "/priv/device_id_cert.pem"
	deviceCertKeyPath   = "/priv/device_id_cert_key.pem"
	fullChainCertPath   = "/ca/full-chain-cert.pem"
	sshRootCAPath       = "/ssh/root_ca.pub"
	updateConfigPath    = "/etc/adu/du-config.json"
	containerPayloadDir = "/payload"
)

// InjectFiles builds the mutation that copies the given targets into the
// staged image.
func InjectFiles(targets []CopyTarget, v *security.Validator) func(string) error {
	return func(stagedImage string) error {
		return CopyToImage(stagedImage, targets, v)
	}
}

// ExtractFiles builds the mutation that pulls the given targets out of the
// staged image.
func ExtractFiles(targets []ExtractTarget) func(string) error {
	return func(stagedImage string) error {
		return CopyFromImage(stagedImage, targets)
	}
}

// IdentityConfig places an identity-service configuration, and any payload
// files it references, into the factory partition.
func IdentityConfig(configPath string, payloadPaths []string) []CopyTarget {
	targets := []CopyTarget{{
		Source:    configPath,
		Partition: FactoryPartition,
		Dest:      identityConfigPath,
	}}
	for _, p := range payloadPaths {
		targets = append(targets, CopyTarget{
			Source:    p,
			Partition: FactoryPartition,
			Dest:      path.Join(identityPayloadDir, path.Base(p)),
		})
	}
	return targets
}

// DeviceCertificate places a device identity certificate and its private
// key into the cert partition. A non-empty fullChainPath additionally
// installs the issuing chain as the enrollment trust anchor.
func DeviceCertificate(certPath, keyPath, fullChainPath string) []CopyTarget {
	targets := []CopyTarget{
		{Source: certPath, Partition: CertPartition, Dest: deviceCertPath},
		{Source: keyPath, Partition: CertPartition, Dest: deviceCertKeyPath},
	}
	if fullChainPath != "" {
		targets = append(targets, CopyTarget{
			Source:    fullChainPath,
			Partition: CertPartition,
			Dest:      fullChainCertPath,
		})
	}
	return targets
}

// SSHRootCA places the public root CA used to validate SSH tunnel
// certificates into the cert partition.
func SSHRootCA(rootCAPath string) []CopyTarget {
	return []CopyTarget{{
		Source:    rootCAPath,
		Partition: CertPartition,
		Dest:      sshRootCAPath,
	}}
}

// UpdateConfig places the update-agent configuration into the factory
// partition.
func UpdateConfig(configPath string) []CopyTarget {
	return []CopyTarget{{
		Source:    configPath,
		Partition: FactoryPartition,
		Dest:      updateConfigPath,
	}}
}

// ContainerPayload places a flattened container archive at dest inside the
// given partition, defaulting to the payload directory.
func ContainerPayload(archivePath, partition, dest string) []CopyTarget {
	if dest == "" {
		dest = path.Join(containerPayloadDir, path.Base(archivePath))
	}
	return []CopyTarget{{
		Source:    archivePath,
		Partition: partition,
		Dest:      dest,
	}}
}
