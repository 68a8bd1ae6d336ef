package mirror

import (
	"os"
	"path/filepath"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

type diskPartition struct {
	Shard         string            `json:"shard"`
	LastSyncedAt  time.Time         `json:"last_synced_at"`
	SourceVersion string            `json:"source_version"`
	Records       []*model.Sounding `json:"records"`
}

func (m *Mirror) diskPath(id shard.ID) string {
	return filepath.Join(m.opts.Root, id.Mission, id.String()+".json")
}

// readDisk returns nil without error when the partition is not cached.
func (m *Mirror) readDisk(id shard.ID) (*Partition, error) {
	f, err := os.Open(m.diskPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewStorageFatalError(module, "failed to open cached partition", id.String(), err)
	}
	defer f.Close()

	var doc diskPartition
	if err := serialization.Decode(f, &doc, "cached partition "+id.String()); err != nil {
		return nil, exception.NewStorageFatalError(module, "cached partition is corrupt, clear it and retry", id.String(), err)
	}
	for _, r := range doc.Records {
		if r.AvailableFiletypes == nil {
			r.AvailableFiletypes = map[string]string{}
		}
	}
	return &Partition{ID: id, LastSyncedAt: doc.LastSyncedAt, SourceVersion: doc.SourceVersion, Records: doc.Records}, nil
}

// writeDisk replaces the cached partition atomically through a temporary file and a rename.
func (m *Mirror) writeDisk(p *Partition) error {
	records := p.Records
	if records == nil {
		records = []*model.Sounding{}
	}
	data, err := serialization.Marshal(diskPartition{
		Shard:         p.ID.String(),
		LastSyncedAt:  p.LastSyncedAt,
		SourceVersion: p.SourceVersion,
		Records:       records,
	}, "cached partition "+p.ID.String())
	if err != nil {
		return err
	}

	target := m.diskPath(p.ID)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return exception.NewStorageFatalError(module, "failed to create mirror directory", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".partition-*")
	if err != nil {
		return exception.NewStorageFatalError(module, "failed to create temporary partition file", dir, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return exception.NewStorageFatalError(module, "failed to write partition", p.ID.String(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return exception.NewStorageFatalError(module, "failed to sync partition", p.ID.String(), err)
	}
	if err := tmp.Close(); err != nil {
		return exception.NewStorageFatalError(module, "failed to close partition", p.ID.String(), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return exception.NewStorageFatalError(module, "failed to install partition", p.ID.String(), err)
	}
	return nil
}
