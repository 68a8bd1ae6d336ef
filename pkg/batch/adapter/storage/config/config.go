// Package config holds the configuration of a named storage connection.
package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // "local" or "gcs".
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Service account key for GCS. Empty uses application default credentials.
	ProjectID       string `yaml:"project_id"`       // GCS project, informational.
	Endpoint        string `yaml:"endpoint"`         // Overrides the GCS endpoint (emulators).
	BaseDir         string `yaml:"base_dir"`         // Root directory for local storage.
}
