package parse

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
)

// CSVParserID registers the CSV parser in the parser registry.
const CSVParserID = "csv"

type csvSourceConfig struct {
	Delimiter string `json:"delimiter"`
}

// CSVParser parses delimiter-separated content. The first record is the
// header and supplies item keys; every following record becomes one
// item. The stage pointer counts data records already emitted.
type CSVParser struct {
	batchSize int
}

// NewCSVParser creates a CSV parser emitting at most batchSize items
// per call.
func NewCSVParser(batchSize int) *CSVParser {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &CSVParser{batchSize: batchSize}
}

// Parse returns the next batch of items.
func (p *CSVParser) Parse(ctx context.Context, source *feed.Source, result *fetch.Result, state *feed.StageState) ([]*feed.Item, error) {
	offset, err := resumeOffset(state)
	if err != nil {
		return nil, err
	}

	var cfg csvSourceConfig
	if err := source.ConfigFor(CSVParserID, &cfg); err != nil {
		return nil, errors.Wrap(err, "invalid csv parser config")
	}

	rc, err := result.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if cfg.Delimiter != "" {
		reader.Comma = rune(cfg.Delimiter[0])
	}

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "csv content is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}

	var (
		items []*feed.Item
		index int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "csv parse aborted")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read csv record %d", index+1)
		}

		if index >= offset && len(items) < p.batchSize {
			item := feed.NewItem()
			for col, key := range header {
				if col < len(record) {
					item.Set(key, record[col])
				} else {
					item.Set(key, "")
				}
			}
			items = append(items, item)
		}
		index++
	}

	if index == 0 {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "csv feed has no data records")
	}

	advance(state, offset, len(items), index)
	return items, nil
}
