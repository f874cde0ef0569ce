package parse

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
)

// JSONParserID registers the JSON parser in the parser registry.
const JSONParserID = "json"

type jsonSourceConfig struct {
	// Root names a top-level object key holding the record array.
	// Empty means the document itself is the array.
	Root string `json:"root"`
}

// JSONParser parses a JSON array of flat objects. The stage pointer
// counts array elements already emitted. Object keys become item keys
// in sorted order so repeated parses of the same document are stable.
type JSONParser struct {
	batchSize int
}

// NewJSONParser creates a JSON parser emitting at most batchSize items
// per call.
func NewJSONParser(batchSize int) *JSONParser {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &JSONParser{batchSize: batchSize}
}

// Parse returns the next batch of items.
func (p *JSONParser) Parse(ctx context.Context, source *feed.Source, result *fetch.Result, state *feed.StageState) ([]*feed.Item, error) {
	offset, err := resumeOffset(state)
	if err != nil {
		return nil, err
	}

	var cfg jsonSourceConfig
	if err := source.ConfigFor(JSONParserID, &cfg); err != nil {
		return nil, errors.Wrap(err, "invalid json parser config")
	}

	data, err := result.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "json content is empty")
	}

	var records []map[string]interface{}
	if cfg.Root == "" {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, errors.Wrap(err, "failed to parse json array")
		}
	} else {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "failed to parse json document")
		}
		raw, ok := doc[cfg.Root]
		if !ok {
			return nil, errors.Newf("json document has no %q key", cfg.Root)
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, errors.Wrapf(err, "failed to parse json array under %q", cfg.Root)
		}
	}

	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "json feed has no records")
	}

	var items []*feed.Item
	for i := offset; i < len(records) && len(items) < p.batchSize; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "json parse aborted")
		}
		items = append(items, itemFromMap(records[i]))
	}

	advance(state, offset, len(items), len(records))
	return items, nil
}

func itemFromMap(record map[string]interface{}) *feed.Item {
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	item := feed.NewItem()
	for _, key := range keys {
		item.Set(key, record[key])
	}
	return item
}
