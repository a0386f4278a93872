package k8sspecs

import (
	"time"

	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

// observation is one captured revision of a Kubernetes object.
type observation struct {
	kind      string
	namespace string
	name      string
	ts        time.Time
	body      map[string]interface{}

	creationTS      time.Time
	hasCreation     bool
	resourceVersion string
	deletionTS      string
}

func (o observation) entity() models.Entity {
	return models.Entity{Namespace: o.namespace, Kind: o.kind, Name: o.name}
}

func (o observation) entityID() string {
	return o.entity().FullID()
}

// loadObservations sniffs the table format and decodes every row. Two
// formats are accepted: the processed snapshot (object_kind/object_name
// columns) and the raw OTEL k8sobjects stream (kind and name live
// inside the Body JSON). Rows without a decodable identity or
// timestamp are dropped.
func loadObservations(frame *query.Frame) ([]observation, bool, error) {
	processed := frame.HasColumn("object_kind") && frame.HasColumn("object_name")
	if processed {
		return loadProcessed(frame)
	}
	return loadRawOTEL(frame)
}

func loadProcessed(frame *query.Frame) ([]observation, bool, error) {
	if !frame.HasColumn("timestamp") {
		return nil, false, models.NewValidationError(
			"unsupported k8s objects format: missing 'timestamp' column")
	}
	bodyCol := "body"
	if !frame.HasColumn(bodyCol) {
		if !frame.HasColumn("Body") {
			return nil, false, models.NewValidationError(
				"unsupported k8s objects format: missing 'body' column")
		}
		bodyCol = "Body"
	}
	nsCol := "object_namespace"
	if !frame.HasColumn(nsCol) {
		nsCol = "namespace"
	}

	var observations []observation
	for _, row := range frame.Rows {
		obs := observation{
			kind:      query.CellString(row["object_kind"]),
			namespace: query.CellString(row[nsCol]),
			name:      query.CellString(row["object_name"]),
			body:      snapshot.ParseBodyJSON(query.CellString(row[bodyCol])),
		}
		if obs.kind == "" || obs.name == "" {
			continue
		}
		ts, ok := query.CellTime(row["timestamp"])
		if !ok {
			continue
		}
		obs.ts = ts
		obs.extractMetadata()
		observations = append(observations, obs)
	}
	return observations, false, nil
}

func loadRawOTEL(frame *query.Frame) ([]observation, bool, error) {
	bodyCol := ""
	for _, c := range []string{"Body", "body"} {
		if frame.HasColumn(c) {
			bodyCol = c
			break
		}
	}
	if bodyCol == "" {
		return nil, false, models.NewValidationError(
			"unsupported k8s objects format: missing object_kind/object_name columns and no Body column found")
	}
	tsCol := ""
	for _, c := range []string{"TimestampTime", "Timestamp", "timestamp"} {
		if frame.HasColumn(c) {
			tsCol = c
			break
		}
	}
	if tsCol == "" {
		return nil, false, models.NewValidationError(
			"unsupported k8s objects format: no timestamp column (TimestampTime/Timestamp/timestamp)")
	}

	var observations []observation
	for _, row := range frame.Rows {
		body := snapshot.ParseBodyJSON(query.CellString(row[bodyCol]))
		if body == nil {
			continue
		}
		obs := observation{
			kind: strValue(body, "kind"),
			body: body,
		}
		if meta, ok := body["metadata"].(map[string]interface{}); ok {
			obs.name = strValue(meta, "name")
			obs.namespace = strValue(meta, "namespace")
		}
		if obs.kind == "" || obs.name == "" {
			continue
		}
		ts, ok := query.CellTime(row[tsCol])
		if !ok {
			continue
		}
		obs.ts = ts
		obs.extractMetadata()
		observations = append(observations, obs)
	}
	return observations, true, nil
}

// extractMetadata pulls the lifecycle evidence fields out of the body:
// creationTimestamp, resourceVersion and deletionTimestamp.
func (o *observation) extractMetadata() {
	if o.body == nil {
		return
	}
	meta, ok := o.body["metadata"].(map[string]interface{})
	if !ok {
		return
	}
	if ts, ok := query.CellTime(meta["creationTimestamp"]); ok {
		o.creationTS = ts
		o.hasCreation = true
	}
	o.resourceVersion = query.CellString(meta["resourceVersion"])
	o.deletionTS = strValue(meta, "deletionTimestamp")
}

func strValue(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// inventoryOf collects the unique entities across observations, in
// first-seen order.
func inventoryOf(observations []observation) []models.Entity {
	var entities []models.Entity
	seen := map[string]bool{}
	for _, o := range observations {
		e := o.entity()
		if id := e.FullID(); !seen[id] {
			seen[id] = true
			entities = append(entities, e)
		}
	}
	return entities
}

// filterByIdentifier narrows observations to those matching a resolved
// identifier.
func filterByIdentifier(observations []observation, res models.Resolution) []observation {
	keep := map[string]bool{}
	for _, e := range res.Matches {
		keep[e.FullID()] = true
	}
	var out []observation
	for _, o := range observations {
		if keep[o.entityID()] {
			out = append(out, o)
		}
	}
	return out
}
