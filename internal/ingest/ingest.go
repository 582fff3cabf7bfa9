// Package ingest reads raw lease extracts from CSV and XLSX batch files and
// maps them to raw records. Rows that violate the extract schema are rejected
// individually; the batch keeps going.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/model"
)

// SchemaError describes a row that could not be accepted.
type SchemaError struct {
	Line   int
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ingest: line %d: %s", e.Line, e.Reason)
}

// Result collects the accepted records and per-row rejects of one file.
type Result struct {
	Records []model.RawLeaseRecord
	Rejects []*SchemaError
}

// Column header aliases, matched after lowercasing and squashing separators.
var columnAliases = map[string]string{
	"titlenumber":   "title",
	"title":         "title",
	"propertyid":    "property",
	"uprn":          "property",
	"propertyidref": "property",
	"term":          "term",
	"leaseterm":     "term",
	"dateoflease":   "lease_date",
	"leasedate":     "lease_date",
	"deleted":       "deleted",
	"recorddeleted": "deleted",
	"extracteddate": "extracted",
	"dateofextract": "extracted",
}

type columnMap struct {
	title, property, term, leaseDate, deleted, extracted int
}

func mapHeader(header []string) (columnMap, error) {
	cm := columnMap{title: -1, property: -1, term: -1, leaseDate: -1, deleted: -1, extracted: -1}
	for i, h := range header {
		key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(h)))
		switch columnAliases[key] {
		case "title":
			cm.title = i
		case "property":
			cm.property = i
		case "term":
			cm.term = i
		case "lease_date":
			cm.leaseDate = i
		case "deleted":
			cm.deleted = i
		case "extracted":
			cm.extracted = i
		}
	}
	if cm.title < 0 {
		return cm, eris.New("ingest: header missing title number column")
	}
	if cm.property < 0 {
		return cm, eris.New("ingest: header missing property identifier column")
	}
	return cm, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// builder accumulates mapped rows, enforcing key presence and first-wins
// duplicate rejection within the batch.
type builder struct {
	cm      columnMap
	batchID string
	now     time.Time
	seen    map[string]struct{}
	res     Result
}

func newBuilder(cm columnMap, batchID string, now time.Time) *builder {
	return &builder{cm: cm, batchID: batchID, now: now, seen: make(map[string]struct{})}
}

func (b *builder) reject(line int, reason string) {
	b.res.Rejects = append(b.res.Rejects, &SchemaError{Line: line, Reason: reason})
}

func (b *builder) add(line int, row []string) {
	title := cell(row, b.cm.title)
	property := cell(row, b.cm.property)
	if title == "" {
		b.reject(line, "missing title number")
		return
	}
	if property == "" {
		b.reject(line, "missing property identifier")
		return
	}
	if _, dup := b.seen[title]; dup {
		b.reject(line, fmt.Sprintf("duplicate title number %q", title))
		return
	}
	b.seen[title] = struct{}{}

	rec := model.RawLeaseRecord{
		TitleNumber: title,
		PropertyID:  property,
		Term:        cell(row, b.cm.term),
		DateOfLease: cell(row, b.cm.leaseDate),
		BatchID:     b.batchID,
		ExtractedAt: b.now,
	}
	if ts := cell(row, b.cm.extracted); ts != "" {
		if at, err := time.Parse("2006-01-02", ts); err == nil {
			rec.ExtractedAt = at
		}
	}
	switch strings.ToLower(cell(row, b.cm.deleted)) {
	case "true", "yes", "y", "1", "deleted":
		rec.Deleted = true
	}
	b.res.Records = append(b.res.Records, rec)
}

func (b *builder) finish() *Result {
	if len(b.res.Rejects) > 0 {
		zap.L().Warn("ingest: rows rejected",
			zap.String("batch_id", b.batchID),
			zap.Int("accepted", len(b.res.Records)),
			zap.Int("rejected", len(b.res.Rejects)),
		)
	}
	return &b.res
}

// ReadCSV streams a CSV extract. The first row must be a header naming the
// title number and property identifier columns.
func ReadCSV(ctx context.Context, r io.Reader, batchID string, now time.Time) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("ingest: empty file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read header")
	}
	cm, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	b := newBuilder(cm, batchID, now)
	for line := 2; ; line++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.reject(line, err.Error())
			continue
		}
		b.add(line, row)
	}
	return b.finish(), nil
}

// ReadXLSX reads the first sheet of an XLSX extract. The first row is the
// header.
func ReadXLSX(ctx context.Context, path, batchID string, now time.Time) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: xlsx has no sheets")
	}
	sheet := f.Sheets[0]

	var cm columnMap
	var b *builder
	for i, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		if i == 0 {
			if cm, err = mapHeader(cells); err != nil {
				return nil, err
			}
			b = newBuilder(cm, batchID, now)
			continue
		}
		b.add(i+1, cells)
	}
	if b == nil {
		return nil, eris.New("ingest: empty file")
	}
	return b.finish(), nil
}

// ReadFile dispatches on the file extension.
func ReadFile(ctx context.Context, path, batchID string, now time.Time) (*Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(ctx, path, batchID, now)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open csv")
		}
		defer f.Close()
		return ReadCSV(ctx, f, batchID, now)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}
