// Package types defines the canonical data model shared across the
// ingestion engine: the normalized DataItem record, task/execution
// bookkeeping, and persisted mining tasks and interconnections.
package types

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrSourceIDRequired and ErrContentRequired guard DataItem's two required
// fields at construction time.
var (
	ErrSourceIDRequired = errors.New("types: source_id is required")
	ErrContentRequired  = errors.New("types: content is required")
)

// DataItem is the canonical ingested record produced by any connector.
//
// Metadata keys are documented per source family rather than typed,
// matching the free-form contract in spec: web connectors set "domain",
// "title", "author", "publish_date", "word_count", "crawl_duration_ms";
// GitHub connectors set "repo", "owner", "kind", "number"; academic
// connectors set "venue", "authors", "doi"; code-search connectors set
// "repo", "path", "language".
type DataItem struct {
	SourceID    string         `json:"source_id"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type,omitempty"`
	URL         string         `json:"url,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Language    string         `json:"language,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Raw is the opaque provider payload kept for debugging. It is never
	// part of the canonical wire form (see MarshalJSON) and is erased by
	// a MarshalJSON/UnmarshalJSON round trip.
	Raw json.RawMessage `json:"-"`
}

// NewDataItem constructs a DataItem, validating the two required fields and
// defaulting Timestamp to the construction time if unset.
func NewDataItem(sourceID, content string) (*DataItem, error) {
	if sourceID == "" {
		return nil, ErrSourceIDRequired
	}
	if content == "" {
		return nil, ErrContentRequired
	}
	return &DataItem{
		SourceID:  sourceID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  make(map[string]any),
	}, nil
}

// dataItemWire is the canonical JSON wire shape: RFC 3339 timestamps, Raw
// always omitted.
type dataItemWire struct {
	SourceID    string         `json:"source_id"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type,omitempty"`
	URL         string         `json:"url,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Language    string         `json:"language,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON serializes to the canonical wire form (Raw omitted).
func (d *DataItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(dataItemWire{
		SourceID:    d.SourceID,
		Content:     d.Content,
		ContentType: d.ContentType,
		URL:         d.URL,
		Timestamp:   d.Timestamp,
		Language:    d.Language,
		Metadata:    d.Metadata,
	})
}

// UnmarshalJSON restores a DataItem from its canonical wire form.
func (d *DataItem) UnmarshalJSON(b []byte) error {
	var w dataItemWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d.SourceID = w.SourceID
	d.Content = w.Content
	d.ContentType = w.ContentType
	d.URL = w.URL
	d.Timestamp = w.Timestamp
	d.Language = w.Language
	d.Metadata = w.Metadata
	d.Raw = nil
	return nil
}

// Set assigns a metadata field, lazily allocating the map.
func (d *DataItem) Set(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// Get retrieves a metadata field.
func (d *DataItem) Get(key string) (any, bool) {
	v, ok := d.Metadata[key]
	return v, ok
}

// GetString retrieves a metadata field as a string, returning "" if absent
// or not a string.
func (d *DataItem) GetString(key string) string {
	v, ok := d.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Clone returns a deep copy of the item (Metadata map and Raw bytes are
// copied, not shared).
func (d *DataItem) Clone() *DataItem {
	clone := *d
	if d.Metadata != nil {
		clone.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.Raw = append(json.RawMessage(nil), d.Raw...)
	return &clone
}
