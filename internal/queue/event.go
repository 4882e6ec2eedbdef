// Package queue carries applied floor changes over RabbitMQ: a publisher
// used by the mirror and a tailing consumer used by floorctl tail.
package queue

import (
	"time"

	"github.com/iliyamo/floor-sync/internal/model"
)

const DefaultQueueName = "floor.changes"

// Change kinds that do not come from a hub event.
const (
	KindLayoutLoaded = "LayoutLoaded"
)

// FloorChangeEvent is published for every change applied to a space's
// projection.  It carries enough for downstream consumers to log or react
// without querying the host API.
type FloorChangeEvent struct {
	SpaceID int64  `json:"space_id"`
	Kind    string `json:"kind"`
	Seq     uint64 `json:"seq"`
	// Unit is set for upserts.
	Unit *model.SeatingUnit `json:"unit,omitempty"`
	// TableID and ChairID are set for removals.
	TableID    int64     `json:"table_id,omitempty"`
	ChairID    int64     `json:"chair_id,omitempty"`
	UnitCount  int       `json:"unit_count"`
	OccurredAt time.Time `json:"occurred_at"`
}
