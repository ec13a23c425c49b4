package upload

import (
	"fmt"
	"io"
	"os"

	"github.com/uploadhub/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout of a default file list:
//
//	files:
//	  - id: "123"
//	    name: hello.md
//	    size: 1234
//	    status: uploading
//	    percent: 30
type seedFile struct {
	Files []models.TrackedFile `yaml:"files"`
}

// LoadSeedFile reads a default file list from a YAML file.
func LoadSeedFile(path string) ([]models.TrackedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadSeed(f)
}

// LoadSeed reads a default file list from YAML. Records must have an id and
// a known status; percent is clamped to 0-100.
func LoadSeed(r io.Reader) ([]models.TrackedFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing seed list: %w", err)
	}

	for i := range doc.Files {
		f := &doc.Files[i]
		if f.ID == "" {
			return nil, fmt.Errorf("seed entry %d (%s): missing id", i, f.Name)
		}
		if f.Status == "" {
			f.Status = models.UploadStatusSuccess
		}
		if !f.Status.Valid() {
			return nil, fmt.Errorf("seed entry %s: invalid status %q", f.ID, f.Status)
		}
		f.Percent = min(max(f.Percent, 0), 100)
	}
	return doc.Files, nil
}
