package occlist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// SoundingRow is the parquet layout of a sounding. Missing numeric values are nulls.
type SoundingRow struct {
	OccultationID      string   `parquet:"name=occultation_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	Time               int64    `parquet:"name=time,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	Mission            string   `parquet:"name=mission,type=BYTE_ARRAY,convertedtype=UTF8"`
	Receiver           string   `parquet:"name=receiver,type=BYTE_ARRAY,convertedtype=UTF8"`
	Transmitter        string   `parquet:"name=transmitter,type=BYTE_ARRAY,convertedtype=UTF8"`
	Longitude          *float64 `parquet:"name=longitude,type=DOUBLE,repetitiontype=OPTIONAL"`
	Latitude           *float64 `parquet:"name=latitude,type=DOUBLE,repetitiontype=OPTIONAL"`
	LocalTime          *float64 `parquet:"name=localtime,type=DOUBLE,repetitiontype=OPTIONAL"`
	Geometry           string   `parquet:"name=geometry,type=BYTE_ARRAY,convertedtype=UTF8"`
	AvailableFiletypes string   `parquet:"name=available_filetypes,type=BYTE_ARRAY,convertedtype=UTF8"`
}

func optional(v float64) *float64 {
	if model.IsFill(v) {
		return nil
	}
	return &v
}

func rowOf(s *model.Sounding) (SoundingRow, error) {
	files, err := json.Marshal(s.AvailableFiletypes)
	if err != nil {
		return SoundingRow{}, err
	}
	return SoundingRow{
		OccultationID:      s.OccultationID,
		Time:               s.Time().UnixMilli(),
		Mission:            s.Mission,
		Receiver:           s.Receiver,
		Transmitter:        s.Transmitter,
		Longitude:          optional(s.Longitude),
		Latitude:           optional(s.Latitude),
		LocalTime:          optional(s.LocalTime),
		Geometry:           string(s.Geometry),
		AvailableFiletypes: string(files),
	}, nil
}

// CompressionCodec maps "SNAPPY", "GZIP" or "NONE" to a parquet codec. Empty means SNAPPY.
func CompressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

// ExportParquet writes the list as one parquet file per UTC day to
// {prefix}/dt={yyyy-mm-dd}/soundings.parquet in dest and returns the object
// paths. Days that fail are reported together; the others are still written.
func (l *OccList) ExportParquet(ctx context.Context, dest *storage.ObjectStore, prefix, compression string) ([]string, error) {
	codec, err := CompressionCodec(compression)
	if err != nil {
		return nil, exception.NewBatchError(module, "invalid parquet compression", err, false, false)
	}
	byDay := map[string][]SoundingRow{}
	for _, r := range l.records {
		row, err := rowOf(r)
		if err != nil {
			return nil, exception.NewBatchError(module, "failed to encode filetype references of "+r.OccultationID, err, false, false)
		}
		day := r.Time().Format("2006-01-02")
		byDay[day] = append(byDay[day], row)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	var written []string
	var errs *multierror.Error
	for _, day := range days {
		rows := byDay[day]
		data, err := encodeParquet(rows, codec)
		if err != nil {
			errs = multierror.Append(errs, exception.NewBatchError(module, "failed to encode parquet for "+day, err, false, false))
			continue
		}
		p := path.Join(prefix, "dt="+day, "soundings.parquet")
		if _, err := dest.Put(ctx, p, data, map[string]string{"records": strconv.Itoa(len(rows))}); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		logger.Debugf("Wrote %d rows to %s.", len(rows), dest.URI(p))
		written = append(written, p)
	}
	logger.Infof("Exported %d records into %d parquet files under %s.", len(l.records), len(written), dest.URI(prefix))
	return written, errs.ErrorOrNil()
}

func encodeParquet(rows []SoundingRow, codec parquet.CompressionCodec) (_ []byte, err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(SoundingRow), int64(len(rows)))
	if err != nil {
		return nil, err
	}
	pw.CompressionType = codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
