package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// reserveScript decides and, when allowed, reserves in one atomic step.
// KEYS[1] marker key; ARGV owner, now_ms, grace_ms, ttl_ms.
var reserveScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
local function reserve(note)
	redis.call('HSET', KEYS[1], 'state', 'RESERVED', 'owner', ARGV[1], 'reserved_at', ARGV[2], 'finalized_at', '', 'reason', '', 'retryable', '0')
	if tonumber(ARGV[4]) > 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[4])
	end
	return {'RESERVED', note}
end
if not state then
	return reserve('')
end
if state == 'RESERVED' then
	local at = tonumber(redis.call('HGET', KEYS[1], 'reserved_at') or '0') or 0
	if tonumber(ARGV[2]) - at >= tonumber(ARGV[3]) then
		return reserve('takeover')
	end
	return {'IN_FLIGHT', ''}
end
if state == 'REJECTED' and redis.call('HGET', KEYS[1], 'retryable') == '1' then
	return reserve('retry')
end
if state == 'COMMITTED' then
	return {'ALREADY_COMMITTED', ''}
end
return {'ALREADY_REJECTED', ''}
`)

// finalizeScript moves RESERVED to a terminal state if the owner matches.
// KEYS[1] marker key; ARGV owner, state, now_ms, retryable, reason,
// resource_id, amount, kind, ttl_ms.
var finalizeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'RESERVED' or redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'finalized_at', ARGV[3], 'retryable', ARGV[4], 'reason', ARGV[5], 'resource_id', ARGV[6], 'amount', ARGV[7], 'kind', ARGV[8])
if tonumber(ARGV[9]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[9])
end
return 1
`)

// RedisGuard stores one hash per correlation id under idem:<id>.
type RedisGuard struct {
	rdb  *redis.Client
	opts Options
}

// NewRedisGuard returns a guard backed by rdb.
func NewRedisGuard(rdb *redis.Client, opts Options) *RedisGuard {
	return &RedisGuard{rdb: rdb, opts: opts.withDefaults()}
}

func markerKey(correlationID string) string {
	return "idem:" + correlationID
}

func (g *RedisGuard) CheckAndReserve(ctx context.Context, correlationID string) (CheckResult, error) {
	if correlationID == "" {
		return CheckResult{}, errors.New("idempotency: empty correlation id")
	}
	owner := newOwnerToken()
	now := g.opts.Now()
	res, err := reserveScript.Run(ctx, g.rdb, []string{markerKey(correlationID)},
		owner, now.UnixMilli(), g.opts.Grace.Milliseconds(), g.opts.TTL.Milliseconds(),
	).StringSlice()
	if err != nil {
		return CheckResult{}, fmt.Errorf("idempotency: reserve %s: %w", correlationID, err)
	}
	if len(res) != 2 {
		return CheckResult{}, fmt.Errorf("idempotency: unexpected reserve reply %v", res)
	}

	decision := Decision(res[0])
	if decision == Reserved {
		return CheckResult{
			Decision: Reserved,
			Reservation: &Reservation{
				CorrelationID: correlationID,
				Owner:         owner,
				ReservedAt:    time.UnixMilli(now.UnixMilli()),
				TakenOver:     res[1] != "",
			},
		}, nil
	}

	marker, err := g.Lookup(ctx, correlationID)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Decision: decision, Marker: marker}, nil
}

func (g *RedisGuard) Finalize(ctx context.Context, r *Reservation, outcome Outcome) error {
	if r == nil {
		return errors.New("idempotency: nil reservation")
	}
	if err := validOutcome(outcome); err != nil {
		return err
	}
	retryable := "0"
	if outcome.Retryable {
		retryable = "1"
	}
	ok, err := finalizeScript.Run(ctx, g.rdb, []string{markerKey(r.CorrelationID)},
		r.Owner, string(outcome.State), g.opts.Now().UnixMilli(), retryable, outcome.Reason,
		outcome.Summary.ResourceID, outcome.Summary.Amount, outcome.Summary.Kind, g.opts.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("idempotency: finalize %s: %w", r.CorrelationID, err)
	}
	if ok != 1 {
		return ErrReservationLost
	}
	return nil
}

func (g *RedisGuard) Lookup(ctx context.Context, correlationID string) (*Marker, error) {
	fields, err := g.rdb.HGetAll(ctx, markerKey(correlationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: lookup %s: %w", correlationID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return markerFromHash(correlationID, fields), nil
}

func markerFromHash(correlationID string, h map[string]string) *Marker {
	m := &Marker{
		CorrelationID: correlationID,
		State:         State(h["state"]),
		Owner:         h["owner"],
		Retryable:     h["retryable"] == "1",
		Reason:        h["reason"],
		Summary: Summary{
			ResourceID: h["resource_id"],
			Amount:     cast.ToInt64(h["amount"]),
			Kind:       h["kind"],
		},
	}
	if ms, err := cast.ToInt64E(h["reserved_at"]); err == nil && ms > 0 {
		m.ReservedAt = time.UnixMilli(ms)
	}
	if ms, err := cast.ToInt64E(h["finalized_at"]); err == nil && ms > 0 {
		t := time.UnixMilli(ms)
		m.FinalizedAt = &t
	}
	return m
}
