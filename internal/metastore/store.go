// Package metastore is the MetadataStore: sounding records keyed by
// (partition_key, sort_key) in a relational database, with range queries on
// the sort key and the conditional write that makes cataloging idempotent.
package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

const module = "metastore"

var (
	soundingKey = []string{"partition_key", "sort_key"}
	fileKey     = []string{"partition_key", "sort_key", "filetype_key"}
	scalarCols  = []string{"longitude", "latitude", "local_time", "geometry"}
)

// PutOutcome describes what a conditional put changed.
type PutOutcome struct {
	// SoundingCreated is true when this call inserted the sounding row.
	SoundingCreated bool
	// ScalarsFilled is true when missing scalars of an existing row were completed.
	ScalarsFilled bool
	// FileAdded is true when the filetype reference did not exist before.
	FileAdded bool
	// FileReplaced is true when an existing reference was overwritten (clobber).
	FileReplaced bool
}

// Unchanged reports whether the put left the catalog as it was.
func (o PutOutcome) Unchanged() bool {
	return !o.SoundingCreated && !o.ScalarsFilled && !o.FileAdded && !o.FileReplaced
}

// Store reads and writes sounding records over a database connection.
type Store struct {
	conn database.DBConnection
	now  func() time.Time
}

// New returns a Store on conn. The schema is created by the migration package.
func New(conn database.DBConnection) *Store {
	return &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) classify(op, item string, err error) error {
	if err == nil {
		return nil
	}
	if s.conn.IsTableNotExistError(err) {
		return exception.NewStorageFatalError(module, op+": catalog schema is missing, run the migrations", item, err)
	}
	return exception.ClassifyStorageError(module, op, item, err)
}

// Get returns the sounding at (partitionKey, sortKey). found is false when absent.
func (s *Store) Get(ctx context.Context, partitionKey, sortKey string) (sounding *model.Sounding, found bool, err error) {
	var rows []SoundingRow
	where := map[string]interface{}{"partition_key": partitionKey, "sort_key": sortKey}
	if err := s.conn.ExecuteQuery(ctx, &rows, where); err != nil {
		return nil, false, s.classify("get", rowKey(partitionKey, sortKey), err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	out, err := s.attachFiles(ctx, s.conn, rows, "partition_key = ? AND sort_key = ?", []interface{}{partitionKey, sortKey})
	if err != nil {
		return nil, false, err
	}
	return out[0], true, nil
}

// QueryPartition returns the soundings of one partition with fromSortKey <= sort_key < toSortKey,
// ordered by sort key. An empty toSortKey leaves the range open.
func (s *Store) QueryPartition(ctx context.Context, partitionKey, fromSortKey, toSortKey string) ([]*model.Sounding, error) {
	where, args := "partition_key = ? AND sort_key >= ?", []interface{}{partitionKey, fromSortKey}
	if toSortKey != "" {
		where += " AND sort_key < ?"
		args = append(args, toSortKey)
	}
	var rows []SoundingRow
	if err := s.conn.ExecuteQueryWhere(ctx, &rows, where, args, "sort_key"); err != nil {
		return nil, s.classify("query partition", partitionKey, err)
	}
	return s.attachFiles(ctx, s.conn, rows, where, args)
}

// QueryShard returns the soundings of one mission and UTC day, ordered by sort
// key then partition key.
func (s *Store) QueryShard(ctx context.Context, mission string, day time.Time) ([]*model.Sounding, error) {
	from := model.SortKey(day.UTC().Truncate(24 * time.Hour))
	to := model.SortKey(day.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour))
	var rows []SoundingRow
	err := s.conn.ExecuteQueryWhere(ctx, &rows, "mission = ? AND sort_key >= ? AND sort_key < ?",
		[]interface{}{mission, from, to}, "sort_key, partition_key")
	if err != nil {
		return nil, s.classify("query shard", fmt.Sprintf("%s %s", mission, day.Format("2006-01-02")), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	partitions := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if !seen[r.PartitionKey] {
			seen[r.PartitionKey] = true
			partitions = append(partitions, r.PartitionKey)
		}
	}
	return s.attachFiles(ctx, s.conn, rows, "partition_key IN ? AND sort_key >= ? AND sort_key < ?", []interface{}{partitions, from, to})
}

// attachFiles loads the filetype references selected by where and joins them to rows.
func (s *Store) attachFiles(ctx context.Context, ex database.DBExecutor, rows []SoundingRow, where string, args []interface{}) ([]*model.Sounding, error) {
	out := make([]*model.Sounding, len(rows))
	index := make(map[string]*model.Sounding, len(rows))
	for i := range rows {
		out[i] = rows[i].sounding()
		index[rowKey(rows[i].PartitionKey, rows[i].SortKey)] = out[i]
	}
	if len(rows) == 0 {
		return out, nil
	}
	var files []FileRow
	if err := ex.ExecuteQueryWhere(ctx, &files, where, args, ""); err != nil {
		return nil, s.classify("query files", "", err)
	}
	for _, f := range files {
		if snd, ok := index[rowKey(f.PartitionKey, f.SortKey)]; ok {
			snd.AvailableFiletypes[f.FileTypeKey] = f.Path
		}
	}
	return out, nil
}

// ConditionalPut catalogs one file of a sounding in a single transaction. The
// sounding row is inserted only if absent, so the first writer's scalar fields
// win; scalars it left as fill values are completed from snd. The reference under fileTypeKey is inserted only if absent, or
// overwritten when clobber is set; other filetype keys are never touched.
func (s *Store) ConditionalPut(ctx context.Context, snd *model.Sounding, fileTypeKey, path string, clobber bool) (PutOutcome, error) {
	var out PutOutcome
	now := s.now()
	err := s.conn.Transaction(ctx, func(tx database.DBExecutor) error {
		created, err := tx.ExecuteUpsert(ctx, rowOf(snd, now), "", soundingKey, nil)
		if err != nil {
			return err
		}
		out.SoundingCreated = created > 0
		if !out.SoundingCreated {
			if out.ScalarsFilled, err = fillMissing(ctx, tx, snd); err != nil {
				return err
			}
		}

		var existing []FileRow
		err = tx.ExecuteQuery(ctx, &existing, map[string]interface{}{
			"partition_key": snd.PartitionKey, "sort_key": snd.SortKey, "filetype_key": fileTypeKey,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 && !clobber {
			return nil
		}

		row := &FileRow{PartitionKey: snd.PartitionKey, SortKey: snd.SortKey, FileTypeKey: fileTypeKey, Path: path, UpdatedAt: now}
		var update []string
		if clobber {
			update = []string{"path", "updated_at"}
		}
		n, err := tx.ExecuteUpsert(ctx, row, "", fileKey, update)
		if err != nil {
			return err
		}
		out.FileAdded = len(existing) == 0 && n > 0
		out.FileReplaced = len(existing) > 0
		return nil
	})
	if err != nil {
		return PutOutcome{}, s.classify("conditional put", snd.OccultationID, err)
	}
	return out, nil
}

// fillMissing merges snd into the stored row and writes back the scalar
// columns when the merge completed any of them.
func fillMissing(ctx context.Context, tx database.DBExecutor, snd *model.Sounding) (bool, error) {
	var rows []SoundingRow
	err := tx.ExecuteQuery(ctx, &rows, map[string]interface{}{"partition_key": snd.PartitionKey, "sort_key": snd.SortKey})
	if err != nil || len(rows) == 0 {
		return false, err
	}
	stored := rows[0].sounding()
	merged := stored.Merge(snd)
	if merged.Longitude == stored.Longitude && merged.Latitude == stored.Latitude &&
		merged.LocalTime == stored.LocalTime && merged.Geometry == stored.Geometry {
		return false, nil
	}
	if _, err := tx.ExecuteUpsert(ctx, rowOf(merged, rows[0].CreatedAt), "", soundingKey, scalarCols); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a sounding and its filetype references.
func (s *Store) Delete(ctx context.Context, partitionKey, sortKey string) error {
	return s.conn.Transaction(ctx, func(tx database.DBExecutor) error {
		if _, err := tx.ExecuteDelete(ctx, FileRow{}.TableName(), "partition_key = ? AND sort_key = ?", partitionKey, sortKey); err != nil {
			return s.classify("delete", rowKey(partitionKey, sortKey), err)
		}
		if _, err := tx.ExecuteDelete(ctx, SoundingRow{}.TableName(), "partition_key = ? AND sort_key = ?", partitionKey, sortKey); err != nil {
			return s.classify("delete", rowKey(partitionKey, sortKey), err)
		}
		return nil
	})
}

// Count returns the number of soundings of mission.
func (s *Store) Count(ctx context.Context, mission string) (int64, error) {
	n, err := s.conn.Count(ctx, &SoundingRow{}, map[string]interface{}{"mission": mission})
	return n, s.classify("count", mission, err)
}
