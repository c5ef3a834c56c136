// Package event models the storage-object-created notification that
// triggers an ingestion invocation, and the prefix/suffix filter that
// decides which keys are processed at all.
package event

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"github.com/tabflow/tabflow/pkg/errors"
)

// Notification is an S3 event notification. One delivery may carry
// several records; each record is handled as its own invocation.
type Notification struct {
	Records []Record `json:"Records"`
}

// Record is a single object-created record.
type Record struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// Object is an immutable reference to the storage item a record points at.
// Keys arrive URL-encoded in notifications and are decoded here once.
type Object struct {
	Bucket string
	Key    string
	Size   int64
}

// Object extracts the referenced storage object from a record.
func (r Record) Object() Object {
	return Object{
		Bucket: r.S3.Bucket.Name,
		Key:    decodeKey(r.S3.Object.Key),
		Size:   r.S3.Object.Size,
	}
}

// decodeKey undoes S3's URL encoding of object keys ("+" is a space).
func decodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return key
	}
	return decoded
}

// Parse decodes a notification from JSON.
func Parse(r io.Reader) (Notification, error) {
	var n Notification
	if err := json.NewDecoder(r).Decode(&n); err != nil {
		return Notification{}, errors.Wrap(err, errors.CodeEventMalformed, "failed to decode event notification")
	}
	return n, nil
}

// ParseBytes decodes a notification from a JSON byte slice.
func ParseBytes(data []byte) (Notification, error) {
	return Parse(strings.NewReader(string(data)))
}

// Filter decides which object keys this pipeline processes. Keys outside
// the filter are skipped as a no-op, not an error.
type Filter struct {
	// Prefix restricts processing to keys under this path. Empty matches all.
	Prefix string
	// Suffixes are the accepted file suffixes after any compression layer
	// (".gz", ".zst") is stripped. Empty matches all.
	Suffixes []string
}

// Match reports whether the key passes the filter, and a reason when it
// does not.
func (f Filter) Match(key string) (bool, string) {
	if f.Prefix != "" && !strings.HasPrefix(key, f.Prefix) {
		return false, "key outside configured prefix " + f.Prefix
	}

	if len(f.Suffixes) == 0 {
		return true, ""
	}

	lower := strings.ToLower(key)
	for _, comp := range []string{".gz", ".zst"} {
		if strings.HasSuffix(lower, comp) {
			lower = strings.TrimSuffix(lower, comp)
			break
		}
	}
	for _, s := range f.Suffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true, ""
		}
	}
	return false, "unsupported file suffix"
}
