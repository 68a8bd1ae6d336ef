package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/domain/naming"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

// Product is one sounding produced from a source file.
type Product struct {
	Fields model.SoundingFields
	// Output is the local canonical file written by the reformatter.
	Output string
	// CenterVersion is the processing center's version label used in the canonical file name.
	CenterVersion string
	// Err reports a sounding the reformatter could not produce. Fields identify it as far as known.
	Err error
}

// Reformatter converts one downloaded source file into canonical products
// written below outputDir. A failure of the whole file is a ReformatError.
type Reformatter interface {
	Reformat(ctx context.Context, file naming.SourceFile, localPath, outputDir string) ([]Product, error)
}

// ExecReformatter runs an external program once per source file. The program
// receives --center, --filetype, --input and --output-dir after the
// configured arguments and prints one JSON product per line on stdout.
type ExecReformatter struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExecReformatter returns an ExecReformatter for cfg.
func NewExecReformatter(cfg config.ReformatterConfig) (*ExecReformatter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("reformatter command is not configured")
	}
	return &ExecReformatter{command: cfg.Command, args: cfg.Args, timeout: cfg.Timeout}, nil
}

// productLine is the stdout line format of the reformatting program.
type productLine struct {
	Mission       string   `json:"mission"`
	Receiver      string   `json:"receiver"`
	Transmitter   string   `json:"transmitter"`
	Time          string   `json:"time"`
	Longitude     *float64 `json:"longitude"`
	Latitude      *float64 `json:"latitude"`
	LocalTime     *float64 `json:"localtime"`
	Geometry      string   `json:"geometry"`
	Output        string   `json:"output"`
	CenterVersion string   `json:"center_version"`
	Error         string   `json:"error"`
}

func (r *ExecReformatter) Reformat(ctx context.Context, file naming.SourceFile, localPath, outputDir string) ([]Product, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	args := append(append([]string(nil), r.args...),
		"--center", file.Center, "--filetype", file.FileType, "--input", localPath, "--output-dir", outputDir)
	cmd := exec.CommandContext(ctx, r.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	logger.Debugf("Running %s %s", r.command, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, exception.NewReformatError("worker.reformatter", file.Path, "reformatter failed: "+msg, err)
	}
	return parseProducts(file, stdout.Bytes())
}

func parseProducts(file naming.SourceFile, out []byte) ([]Product, error) {
	var products []Product
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var pl productLine
		if err := serialization.Unmarshal(line, &pl, "reformatter product"); err != nil {
			return nil, exception.NewReformatError("worker.reformatter", file.Path, "unreadable reformatter output", err)
		}
		products = append(products, pl.product(file))
	}
	if err := sc.Err(); err != nil {
		return nil, exception.NewReformatError("worker.reformatter", file.Path, "unreadable reformatter output", err)
	}
	return products, nil
}

// product fills the identity the line leaves out from the source file name.
func (pl productLine) product(file naming.SourceFile) Product {
	p := Product{
		Fields: model.SoundingFields{
			Mission:     firstNonEmpty(pl.Mission, file.Mission),
			Receiver:    firstNonEmpty(pl.Receiver, file.Receiver),
			Transmitter: firstNonEmpty(pl.Transmitter, file.Transmitter),
			Time:        file.Time,
			Longitude:   pl.Longitude,
			Latitude:    pl.Latitude,
			LocalTime:   pl.LocalTime,
			Geometry:    model.Geometry(pl.Geometry),
		},
		Output:        pl.Output,
		CenterVersion: firstNonEmpty(pl.CenterVersion, file.CenterVersion),
	}
	if pl.Time != "" {
		t, err := time.Parse(time.RFC3339, pl.Time)
		if err != nil {
			p.Err = fmt.Errorf("invalid time %q: %w", pl.Time, err)
		} else {
			p.Fields.Time = t.UTC().Truncate(time.Minute)
		}
	}
	if pl.Error != "" {
		p.Err = fmt.Errorf("%s", pl.Error)
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
