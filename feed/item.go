package feed

// Item is one flat parsed record ready for mapping: an ordered key→value
// map with no identity of its own. Ids are derived from mapped unique
// fields during processing.
type Item struct {
	keys   []string
	values map[string]interface{}
}

// NewItem creates an empty item.
func NewItem() *Item {
	return &Item{values: make(map[string]interface{})}
}

// Set assigns a value, preserving first-insertion key order.
func (i *Item) Set(key string, value interface{}) {
	if _, exists := i.values[key]; !exists {
		i.keys = append(i.keys, key)
	}
	i.values[key] = value
}

// Get returns the value for key, or nil.
func (i *Item) Get(key string) interface{} {
	return i.values[key]
}

// Has reports whether key is present.
func (i *Item) Has(key string) bool {
	_, ok := i.values[key]
	return ok
}

// Keys returns keys in insertion order.
func (i *Item) Keys() []string {
	return i.keys
}

// Len returns the number of keys.
func (i *Item) Len() int {
	return len(i.keys)
}
