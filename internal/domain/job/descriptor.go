// Package job defines the reformat-and-catalog job descriptor exchanged
// between createjobs and batchprocess.
package job

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

// Descriptor lists source files of one center, mission and filetype to be
// reformatted and cataloged by a single worker run.
type Descriptor struct {
	ID               string `json:"id"`
	ProcessingCenter string `json:"processing_center"`
	Mission          string `json:"mission"`
	// FileType is the canonical filetype, e.g. "calibratedPhase".
	FileType string `json:"filetype"`
	Version  string `json:"version"`
	// InputPrefix locates the source bucket, e.g. "gcs://ucar-earth-ro-archive".
	InputPrefix string `json:"input_prefix"`
	// Date is the day of the first file, yyyy-mm-dd.
	Date  string   `json:"date"`
	Files []string `json:"files"`
}

// AssignID sets ID to a name-based (SHA-1) UUID of the descriptor content, so
// that planning the same files twice yields the same id.
func (d *Descriptor) AssignID() error {
	c := *d
	c.ID = ""
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	d.ID = uuid.NewSHA1(uuid.NameSpaceURL, data).String()
	return nil
}

// FileTypeKey returns "{center}_{filetype}".
func (d *Descriptor) FileTypeKey() string {
	return model.FileTypeKey(d.ProcessingCenter, d.FileType)
}

// Validate checks that the descriptor can be executed.
func (d *Descriptor) Validate() error {
	known := false
	for _, c := range mission.Centers {
		known = known || c == d.ProcessingCenter
	}
	switch {
	case !known:
		return fmt.Errorf("job %s: unknown processing center %q", d.ID, d.ProcessingCenter)
	case d.Mission == "":
		return fmt.Errorf("job %s: mission is empty", d.ID)
	case d.Version == "":
		return fmt.Errorf("job %s: version is empty", d.ID)
	case d.InputPrefix == "":
		return fmt.Errorf("job %s: input_prefix is empty", d.ID)
	}
	ft, err := model.NormalizeFileType(d.FileType)
	if err != nil || ft != d.FileType {
		return fmt.Errorf("job %s: filetype %q is not a canonical filetype", d.ID, d.FileType)
	}
	return nil
}

// Path returns {jobsPrefix}/{version}/{center}/{mission}/{filetype}/{date}_{id}.json,
// with the dots of the version replaced by underscores.
func Path(jobsPrefix string, d *Descriptor) string {
	return path.Join(jobsPrefix, strings.ReplaceAll(d.Version, ".", "_"),
		d.ProcessingCenter, d.Mission, d.FileType, d.Date+"_"+d.ID+".json")
}

// Encode serializes d.
func Encode(d *Descriptor) ([]byte, error) {
	return serialization.Marshal(d, "job descriptor")
}

// Decode parses and validates a descriptor.
func Decode(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := serialization.Unmarshal(data, &d, "job descriptor"); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, exception.NewBatchError("job", "invalid job descriptor", err, false, false)
	}
	return &d, nil
}
