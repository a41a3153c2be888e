package db

// Schema defines the SQLite schema for the provisioning-run ledger.
// Each row records one run of the image pipeline: the source image, the
// operation applied, the resulting artifacts and their checksum.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    image TEXT NOT NULL,
    operation TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'succeeded', 'published', 'failed')),
    sha256 TEXT,
    output_path TEXT,
    bmap_path TEXT,
    compression TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_image ON runs(image);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Run represents one provisioning run of an image
type Run struct {
	ID           int64
	Image        string
	Operation    string
	Status       string
	SHA256       string
	OutputPath   string
	BmapPath     string
	Compression  string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}
