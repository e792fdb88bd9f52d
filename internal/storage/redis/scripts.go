package redis

const (
	// replaceLimitsScript atomically replaces the whole limits hash so a
	// reader never observes a half-written record
	replaceLimitsScript = `
local limits_key = KEYS[1]     -- {prefix}:limits

-- ARGV holds hostname/record pairs
redis.call('DEL', limits_key)

local count = 0
for i = 1, #ARGV, 2 do
  redis.call('HSET', limits_key, ARGV[i], ARGV[i + 1])
  count = count + 1
end

return count
`
)
