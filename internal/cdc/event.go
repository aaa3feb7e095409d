// Package cdc applies change events from the system-of-record tables to the
// search index.
package cdc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/Aman-CERP/recordsync/internal/record"
)

// Event names carried by stream records.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Image is a table item in attribute-value form.
type Image map[string]*dynamodb.AttributeValue

// StreamRecord holds the item images of one change.
type StreamRecord struct {
	Keys     Image `json:"Keys,omitempty"`
	NewImage Image `json:"NewImage,omitempty"`
	OldImage Image `json:"OldImage,omitempty"`
}

// Event is one change of one table item.
type Event struct {
	EventID        string       `json:"eventID,omitempty"`
	EventName      string       `json:"eventName"`
	EventSourceARN string       `json:"eventSourceARN"`
	DynamoDB       StreamRecord `json:"dynamodb"`
}

// Batch is one delivery of stream records.
type Batch struct {
	Records []Event `json:"Records"`
}

// DecodeBatch parses a stream delivery.
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode stream batch: %w", err)
	}
	return &b, nil
}

// Table returns the table name from the event source ARN, which looks like
// arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>.
// A bare name is returned unchanged.
func (e Event) Table() string {
	arn := e.EventSourceARN
	i := strings.Index(arn, "table/")
	if i < 0 {
		return arn
	}
	name := arn[i+len("table/"):]
	if j := strings.Index(name, "/"); j >= 0 {
		name = name[:j]
	}
	return name
}

// decodeImage converts an attribute-value image to a plain document.
// An empty image decodes to nil.
func decodeImage(img Image) (record.Document, error) {
	if len(img) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := dynamodbattribute.UnmarshalMap(img, &doc); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return normalize(doc).(map[string]any), nil
}

// normalize rewrites set types to plain lists so documents compare and
// encode the same way after a trip through the index.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out
	case [][]byte:
		out := make([]any, len(t))
		for i, b := range t {
			out[i] = b
		}
		return out
	default:
		return v
	}
}

// EncodeImage converts a document to attribute-value form. Tests and the
// apply-events command use it to build events.
func EncodeImage(doc record.Document) (Image, error) {
	img, err := dynamodbattribute.MarshalMap(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return img, nil
}
