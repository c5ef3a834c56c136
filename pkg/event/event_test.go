package event

import (
	"strings"
	"testing"
)

const sampleNotification = `{
  "Records": [
    {
      "eventName": "ObjectCreated:Put",
      "s3": {
        "bucket": {"name": "data-landing"},
        "object": {"key": "incoming/orders+report%202024.csv", "size": 2048}
      }
    },
    {
      "eventName": "ObjectCreated:Put",
      "s3": {
        "bucket": {"name": "data-landing"},
        "object": {"key": "incoming/metrics.ndjson", "size": 512}
      }
    }
  ]
}`

func TestParse(t *testing.T) {
	n, err := Parse(strings.NewReader(sampleNotification))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(n.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(n.Records))
	}

	obj := n.Records[0].Object()
	if obj.Bucket != "data-landing" {
		t.Errorf("Bucket = %q, want data-landing", obj.Bucket)
	}
	if obj.Key != "incoming/orders report 2024.csv" {
		t.Errorf("Key = %q, want url-decoded key", obj.Key)
	}
	if obj.Size != 2048 {
		t.Errorf("Size = %d, want 2048", obj.Size)
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse(strings.NewReader("{not json")); err == nil {
		t.Fatal("expected error for malformed notification")
	}
}

func TestFilter_Match(t *testing.T) {
	f := Filter{
		Prefix:   "incoming/",
		Suffixes: []string{".csv", ".ndjson", ".jsonl", ".json", ".xlsx"},
	}

	tests := []struct {
		key   string
		match bool
	}{
		{"incoming/orders.csv", true},
		{"incoming/orders.CSV", true},
		{"incoming/orders.csv.gz", true},
		{"incoming/metrics.ndjson.zst", true},
		{"incoming/report.xlsx", true},
		{"incoming/readme.txt", false},
		{"archive/orders.csv", false},
		{"incoming/orders", false},
	}

	for _, tt := range tests {
		got, reason := f.Match(tt.key)
		if got != tt.match {
			t.Errorf("Match(%q) = %v (%s), want %v", tt.key, got, reason, tt.match)
		}
		if !got && reason == "" {
			t.Errorf("Match(%q) rejected without a reason", tt.key)
		}
	}
}

func TestFilter_Empty(t *testing.T) {
	f := Filter{}
	if ok, _ := f.Match("anything/at/all.bin"); !ok {
		t.Error("empty filter should match every key")
	}
}
