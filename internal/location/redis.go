package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

// reportScript writes the position only when the stored timestamp is not
// newer. KEYS[1] position hash; ARGV ts millis, lat, lon, ttl millis.
var reportScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'ts')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'lat', ARGV[2], 'lon', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker stores positions as hashes. A zero ttl keeps them forever.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

func positionKey(courierID string) string {
	return "deliveryflow:courier:" + courierID + ":position"
}

func (t *RedisTracker) Report(ctx context.Context, pos domain.Position) (bool, error) {
	accepted, err := reportScript.Run(ctx, t.client, []string{positionKey(pos.CourierID)},
		pos.Timestamp.UnixMilli(),
		strconv.FormatFloat(pos.Lat, 'f', -1, 64),
		strconv.FormatFloat(pos.Lon, 'f', -1, 64),
		t.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("report position of courier %s: %w", pos.CourierID, err)
	}
	return accepted == 1, nil
}

func (t *RedisTracker) Position(ctx context.Context, courierID string) (*domain.Position, error) {
	fields, err := t.client.HGetAll(ctx, positionKey(courierID)).Result()
	if err != nil {
		return nil, fmt.Errorf("position of courier %s: %w", courierID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("position of courier %s: %w", courierID, domain.ErrNotFound)
	}

	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ts of courier %s: %w", courierID, err)
	}
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse lat of courier %s: %w", courierID, err)
	}
	lon, err := strconv.ParseFloat(fields["lon"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse lon of courier %s: %w", courierID, err)
	}

	return &domain.Position{
		CourierID: courierID,
		Lat:       lat,
		Lon:       lon,
		Timestamp: time.UnixMilli(ts).UTC(),
	}, nil
}
