package redis

const (
	// saveSnapshotScript atomically updates a usage snapshot and its index.
	// Snapshots that stop being written expire after 90 days; every save
	// refreshes the TTL so active accounts never expire.
	saveSnapshotScript = `
local snap_key = KEYS[1]      -- studygate:usage:{userID}
local index_key = KEYS[2]     -- studygate:usage:index

local user_id = ARGV[1]
local daily_seconds_used = ARGV[2]
local current_day = ARGV[3]
local active_days = ARGV[4]
local current_month = ARGV[5]
local last_heartbeat_at = ARGV[6]

redis.call('HSET', snap_key,
  'user_id', user_id,
  'daily_seconds_used', daily_seconds_used,
  'current_day', current_day,
  'active_days', active_days,
  'current_month', current_month,
  'last_heartbeat_at', last_heartbeat_at
)

redis.call('SADD', index_key, user_id)

-- Rolling retention: 90 days (7776000 seconds)
redis.call('EXPIRE', snap_key, 7776000)

return 'OK'
`
)
