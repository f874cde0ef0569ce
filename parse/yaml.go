package parse

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry/errors"
	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/fetch"
)

// YAMLParserID registers the YAML parser in the parser registry.
const YAMLParserID = "yaml"

// YAMLParser parses a YAML sequence of flat mappings. Behaves like the
// JSON parser otherwise: the stage pointer counts records emitted and
// item keys come out sorted.
type YAMLParser struct {
	batchSize int
}

// NewYAMLParser creates a YAML parser emitting at most batchSize items
// per call.
func NewYAMLParser(batchSize int) *YAMLParser {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &YAMLParser{batchSize: batchSize}
}

// Parse returns the next batch of items.
func (p *YAMLParser) Parse(ctx context.Context, source *feed.Source, result *fetch.Result, state *feed.StageState) ([]*feed.Item, error) {
	offset, err := resumeOffset(state)
	if err != nil {
		return nil, err
	}

	data, err := result.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "yaml content is empty")
	}

	var records []map[string]interface{}
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, "failed to parse yaml sequence")
	}
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyFeed, "yaml feed has no records")
	}

	var items []*feed.Item
	for i := offset; i < len(records) && len(items) < p.batchSize; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "yaml parse aborted")
		}
		items = append(items, itemFromMap(records[i]))
	}

	advance(state, offset, len(items), len(records))
	return items, nil
}
