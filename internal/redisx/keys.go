package redisx

import (
	"fmt"
	"time"
)

const (
	// Snapshot order lengkap: order:{order_id} -> JSON orders.Order
	KeyOrder = "order:%d"

	// Generasi snapshot, naik setiap invalidate: order:{order_id}:gen -> int
	KeyOrderGen = "order:%d:gen"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLOrderGen   = 48 * time.Hour
	TTLDedup      = 48 * time.Hour
)

func OrderKey(id int64) string { return fmt.Sprintf(KeyOrder, id) }

func OrderGenKey(id int64) string { return fmt.Sprintf(KeyOrderGen, id) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
