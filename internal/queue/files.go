package queue

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/recordsync/internal/record"
	"github.com/Aman-CERP/recordsync/internal/scroll"
	"github.com/Aman-CERP/recordsync/internal/store"
)

// BucketFile is one file of a granule that lives in the queued bucket.
type BucketFile struct {
	GranuleID string `json:"granuleId"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	FileName  string `json:"fileName,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// NewFileQueue queues every file stored in bucket, granule by granule.
// Granules are read in granuleId order; files keep their order within a
// granule. Files in other buckets are skipped.
func NewFileQueue(client store.Client, bucket string, cfg Config) *SearchQueue[BucketFile] {
	b := bleve.NewTermQuery(bucket)
	b.SetField("files.bucket")
	req := store.SearchRequest{
		Target: cfg.Target,
		Query:  kindQuery(record.Granule, b),
		Sort:   []string{"granuleId"},
	}
	return NewSearchQueue(scroll.NewCursor(client, req, cfg.cursor()), bucketFiles(bucket))
}

func bucketFiles(bucket string) Convert[BucketFile] {
	return func(h store.Hit) ([]BucketFile, error) {
		granuleID, _ := h.Source["granuleId"].(string)
		if granuleID == "" {
			granuleID = h.ID
		}
		files, _ := h.Source["files"].([]any)

		var out []BucketFile
		for i, raw := range files {
			f, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("granule %s: file %d is %T, not an object", granuleID, i, raw)
			}
			if s, _ := f["bucket"].(string); s != bucket {
				continue
			}
			bf := BucketFile{GranuleID: granuleID, Bucket: bucket}
			bf.Key, _ = f["key"].(string)
			bf.FileName, _ = f["fileName"].(string)
			if size, ok := f["size"].(float64); ok {
				bf.Size = int64(size)
			}
			out = append(out, bf)
		}
		return out, nil
	}
}
