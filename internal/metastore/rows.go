package metastore

import (
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
)

// SoundingRow is one row of the soundings table.
type SoundingRow struct {
	PartitionKey      string    `gorm:"column:partition_key;primaryKey"`
	SortKey           string    `gorm:"column:sort_key;primaryKey"`
	OccultationID     string    `gorm:"column:occultation_id"`
	Mission           string    `gorm:"column:mission"`
	Receiver          string    `gorm:"column:receiver"`
	Transmitter       string    `gorm:"column:transmitter"`
	GNSSConstellation string    `gorm:"column:gnss_constellation"`
	Longitude         float64   `gorm:"column:longitude"`
	Latitude          float64   `gorm:"column:latitude"`
	LocalTime         float64   `gorm:"column:local_time"`
	Geometry          string    `gorm:"column:geometry"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

// TableName implements gorm's Tabler.
func (SoundingRow) TableName() string { return "soundings" }

// FileRow is one filetype reference of a sounding.
type FileRow struct {
	PartitionKey string    `gorm:"column:partition_key;primaryKey"`
	SortKey      string    `gorm:"column:sort_key;primaryKey"`
	FileTypeKey  string    `gorm:"column:filetype_key;primaryKey"`
	Path         string    `gorm:"column:path"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName implements gorm's Tabler.
func (FileRow) TableName() string { return "sounding_files" }

func rowOf(s *model.Sounding, now time.Time) *SoundingRow {
	return &SoundingRow{
		PartitionKey:      s.PartitionKey,
		SortKey:           s.SortKey,
		OccultationID:     s.OccultationID,
		Mission:           s.Mission,
		Receiver:          s.Receiver,
		Transmitter:       s.Transmitter,
		GNSSConstellation: s.GNSSConstellation,
		Longitude:         s.Longitude,
		Latitude:          s.Latitude,
		LocalTime:         s.LocalTime,
		Geometry:          string(s.Geometry),
		CreatedAt:         now,
	}
}

func (r *SoundingRow) sounding() *model.Sounding {
	return &model.Sounding{
		OccultationID:      r.OccultationID,
		PartitionKey:       r.PartitionKey,
		SortKey:            r.SortKey,
		Mission:            r.Mission,
		Receiver:           r.Receiver,
		Transmitter:        r.Transmitter,
		GNSSConstellation:  r.GNSSConstellation,
		Longitude:          r.Longitude,
		Latitude:           r.Latitude,
		LocalTime:          r.LocalTime,
		Geometry:           model.Geometry(r.Geometry),
		AvailableFiletypes: map[string]string{},
	}
}

func rowKey(partitionKey, sortKey string) string {
	return partitionKey + "|" + sortKey
}
