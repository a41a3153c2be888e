package workflow

import "github.com/edgeimage/imagectl/pkg/update"

// PublishRequest is the FSM input
type PublishRequest struct {
	ImagePath string
	S3Prefix  string

	// Manifest, when set, has an import manifest generated for the
	// provisioned output and published alongside it.
	Manifest *update.Params
}

// PublishResponse is the FSM output (accumulated across transitions)
type PublishResponse struct {
	// From CheckLedger
	RunID            int64
	AlreadyPublished bool

	// From Provision
	OutputPath   string
	BmapPath     string
	ManifestPath string

	// From Upload
	SHA256      string
	ImageKey    string
	BmapKey     string
	ManifestKey string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateCheckLedger = "check_ledger"
	StateProvision   = "provision"
	StateUpload      = "upload"
	StateComplete    = "complete"
	StateFailed      = "failed"
)
