package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/transport"
)

const (
	actionAppend = "append"

	// batchEnvelopeBytes covers {"actionType":"append","entities":[]} and separators.
	batchEnvelopeBytes = 64
)

var alreadyExistsMarker = []byte("already exists")

// UpsertEntity creates the entity, or appends/replaces its attributes when
// the broker reports that it already exists.
func (c *Client) UpsertEntity(ctx context.Context, entity core.Entity) (outcome core.UpsertOutcome, err error) {
	startedAt := time.Now()
	defer func() {
		c.observer.ObserveOperation(ctx, startedAt, "broker upsert", err, map[string]any{
			"entity_id":   entity.ID,
			"entity_type": entity.Type,
			"outcome":     string(outcome),
		})
	}()

	body, err := json.Marshal(entity)
	if err != nil {
		return "", core.NewPermanentError("broker: encode entity", err, map[string]any{"entity_id": entity.ID})
	}
	createReq := transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint("entities"),
		Body:   body,
	}
	res, err := c.send(ctx, createReq)
	if err != nil {
		return "", err
	}
	if res.Class() == transport.ClassSuccess {
		return core.UpsertOutcomeCreated, nil
	}
	if !entityExists(res) {
		return "", permanentError("broker: create entity "+entity.ID, createReq, res)
	}

	attrs, err := json.Marshal(entity.AttributesPayload())
	if err != nil {
		return "", core.NewPermanentError("broker: encode attributes", err, map[string]any{"entity_id": entity.ID})
	}
	updateReq := transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint("entities", entity.ID, "attrs"),
		Query:  map[string]string{"type": entity.Type},
		Body:   attrs,
	}
	res, err = c.send(ctx, updateReq)
	if err != nil {
		return "", err
	}
	if res.Class() != transport.ClassSuccess {
		return "", permanentError("broker: update entity "+entity.ID, updateReq, res)
	}
	return core.UpsertOutcomeUpdated, nil
}

// DeleteEntity removes an entity. A missing entity counts as deleted.
func (c *Client) DeleteEntity(ctx context.Context, id string, entityType string) (err error) {
	startedAt := time.Now()
	defer func() {
		c.observer.ObserveOperation(ctx, startedAt, "broker delete", err, map[string]any{
			"entity_id":   id,
			"entity_type": entityType,
		})
	}()

	req := transport.Request{
		Method: http.MethodDelete,
		URL:    c.endpoint("entities", id),
	}
	if entityType != "" {
		req.Query = map[string]string{"type": entityType}
	}
	res, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if res.Class() == transport.ClassSuccess || res.StatusCode == http.StatusNotFound {
		return nil
	}
	return permanentError("broker: delete entity "+id, req, res)
}

// BatchUpsert appends entities through /v2/op/update in chunks that stay
// under the configured payload size. Each chunk succeeds or fails as a unit.
func (c *Client) BatchUpsert(ctx context.Context, entities []core.Entity) []core.BatchResult {
	chunks, results := c.chunk(entities)
	for _, chunk := range chunks {
		ids := make([]string, 0, len(chunk))
		raws := make([][]byte, 0, len(chunk))
		for _, entity := range chunk {
			ids = append(ids, entity.id)
			raws = append(raws, entity.raw)
		}
		if err := ctx.Err(); err != nil {
			results = append(results, core.BatchResult{
				EntityIDs: ids,
				Err:       core.NewTransientError("broker: batch cancelled", err),
			})
			continue
		}
		results = append(results, core.BatchResult{
			EntityIDs: ids,
			Err:       c.sendBatch(ctx, ids, raws),
		})
	}
	return results
}

func (c *Client) sendBatch(ctx context.Context, ids []string, raws [][]byte) (err error) {
	startedAt := time.Now()
	defer func() {
		c.observer.ObserveOperation(ctx, startedAt, "broker batch", err, map[string]any{
			"entities": len(ids),
		})
	}()

	var body bytes.Buffer
	body.WriteString(`{"actionType":"` + actionAppend + `","entities":[`)
	body.Write(bytes.Join(raws, []byte(",")))
	body.WriteString("]}")

	req := transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint("op", "update"),
		Body:   body.Bytes(),
	}
	res, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if res.Class() != transport.ClassSuccess {
		return permanentError("broker: batch update", req, res)
	}
	return nil
}

type encodedEntity struct {
	id  string
	raw []byte
}

// chunk encodes entities and groups them by payload size. Entities that
// cannot be sent at all come back as failed results.
func (c *Client) chunk(entities []core.Entity) ([][]encodedEntity, []core.BatchResult) {
	var (
		chunks   [][]encodedEntity
		rejected []core.BatchResult
		current  []encodedEntity
		size     = batchEnvelopeBytes
	)
	for _, entity := range entities {
		raw, err := json.Marshal(entity)
		if err != nil {
			rejected = append(rejected, core.BatchResult{
				EntityIDs: []string{entity.ID},
				Err:       core.NewPermanentError("broker: encode entity", err, map[string]any{"entity_id": entity.ID}),
			})
			continue
		}
		if len(raw)+batchEnvelopeBytes > c.maxPayload {
			rejected = append(rejected, core.BatchResult{
				EntityIDs: []string{entity.ID},
				Err: core.NewPermanentError(
					fmt.Sprintf("broker: entity %s exceeds max payload of %d bytes", entity.ID, c.maxPayload),
					nil,
					map[string]any{"entity_id": entity.ID, "size": len(raw)},
				),
			})
			continue
		}
		if len(current) > 0 && size+len(raw)+1 > c.maxPayload {
			chunks = append(chunks, current)
			current, size = nil, batchEnvelopeBytes
		}
		current = append(current, encodedEntity{id: entity.ID, raw: raw})
		size += len(raw) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, rejected
}

func entityExists(res transport.Response) bool {
	switch res.StatusCode {
	case http.StatusUnprocessableEntity, http.StatusConflict:
		return true
	}
	return bytes.Contains(bytes.ToLower(res.Body), alreadyExistsMarker)
}

var (
	_ core.EntityPusher = (*Client)(nil)
	_ core.BatchPusher  = (*Client)(nil)
)
