package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/metadatastore"
)

// ConsumerStatus reports whether a client has consumed the latest
// published version of a flat resource, per §4.4.4.
type ConsumerStatus struct {
	Current bool

	LatestResourceID    string
	LatestPublishDate   time.Time
	HasLatest           bool

	ConsumedResourceID  string
	ConsumedPublishDate time.Time
	ConsumeDate         time.Time
	HasConsumed         bool
}

// ConsumerTracker is a per-client sidecar recording the last consumed
// version of a flat resource, grounded on
// storage/azure_blob.py's AzureBlobResourceClient. Its own metadata
// blob lives one level under the resource's base path, at
// "<base>/clients/<clientid>.json" (§7 of SPEC_FULL.md).
type ConsumerTracker struct {
	clientID      string
	resourceStore *metadatastore.Store
	clientStore   *metadatastore.Store
	tz            *time.Location
}

// NewConsumerTracker builds a tracker for clientID against the resource
// whose metadata document lives at resourceBasePath.
func NewConsumerTracker(client blobstore.Client, resourceBasePath, clientID string, tz *time.Location) *ConsumerTracker {
	resourceMetaPath := "metadata.json"
	clientMetaPath := "clients/" + clientID + ".json"
	if resourceBasePath != "" {
		resourceMetaPath = resourceBasePath + "/" + resourceMetaPath
		clientMetaPath = resourceBasePath + "/" + clientMetaPath
	}
	return &ConsumerTracker{
		clientID:      clientID,
		resourceStore: metadatastore.New(client.Blob(resourceMetaPath), false),
		clientStore:   metadatastore.New(client.Blob(clientMetaPath), false),
		tz:            tz,
	}
}

// Status implements the three-way comparison of §4.4.4.
func (c *ConsumerTracker) Status(ctx context.Context) (ConsumerStatus, error) {
	var clientDoc map[string]any
	hasClient, err := c.clientStore.Decode(ctx, &clientDoc)
	if err != nil {
		return ConsumerStatus{}, err
	}

	var resourceDoc map[string]any
	hasResource, err := c.resourceStore.Decode(ctx, &resourceDoc)
	if err != nil {
		return ConsumerStatus{}, err
	}

	var latestID string
	var latestPublish time.Time
	var hasLatest bool
	if hasResource {
		if current, ok := resourceDoc["current"].(map[string]any); ok {
			if id, ok := current["resource_id"].(string); ok && id != "" {
				latestID = id
				hasLatest = true
				if t, err := decodeTime(current["publish_date"]); err == nil {
					latestPublish = t
				}
			}
		}
	}

	var consumedID string
	var consumedPublish, consumeDate time.Time
	var hasConsumed bool
	if hasClient {
		if id, ok := clientDoc["resource_id"].(string); ok && id != "" {
			consumedID = id
			hasConsumed = true
			if t, err := decodeTime(clientDoc["publish_date"]); err == nil {
				consumedPublish = t
			}
			if t, err := decodeTime(clientDoc["consume_date"]); err == nil {
				consumeDate = t
			}
		}
	}

	status := ConsumerStatus{
		LatestResourceID:    latestID,
		LatestPublishDate:   latestPublish,
		HasLatest:           hasLatest,
		ConsumedResourceID:  consumedID,
		ConsumedPublishDate: consumedPublish,
		ConsumeDate:         consumeDate,
		HasConsumed:         hasConsumed,
	}

	switch {
	case !hasConsumed && !hasLatest:
		status.Current = true
	case !hasConsumed:
		status.Current = false
	case !hasLatest:
		status.Current = true
	case consumedID == latestID:
		status.Current = true
	default:
		status.Current = false
	}
	return status, nil
}

// IsBehind reports the negation of Status().Current.
func (c *ConsumerTracker) IsBehind(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return !st.Current, nil
}

// Consume downloads the latest unconsumed version (if any), invokes
// callback with the decoded JSON (isJSON) or the raw bytes, and on
// success records the new consume position. Returns false without side
// effects when the client is already current.
func (c *ConsumerTracker) Consume(ctx context.Context, client blobstore.Client, resourcePath string, isJSON bool, callback func(jsonDoc map[string]any, raw []byte) error) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	if status.Current {
		return false, nil
	}

	blob := client.Blob(resourcePath)
	raw, err := blob.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("consume: reading resource: %w", err)
	}

	if isJSON {
		var doc map[string]any
		if err := decodeJSON(raw, &doc); err != nil {
			return false, fmt.Errorf("consume: decoding resource json: %w", err)
		}
		if err := callback(doc, nil); err != nil {
			return false, err
		}
	} else {
		if err := callback(nil, raw); err != nil {
			return false, err
		}
	}

	clientMeta := map[string]any{
		"resource_id":  status.LatestResourceID,
		"publish_date": encodeTime(status.LatestPublishDate, c.tz),
		"consume_date": encodeTime(time.Now().In(c.tz), c.tz),
	}
	if err := c.clientStore.Update(ctx, clientMeta); err != nil {
		return false, fmt.Errorf("consume: updating client metadata: %w", err)
	}
	return true, nil
}
