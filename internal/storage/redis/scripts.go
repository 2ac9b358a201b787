package redis

const (
	// addAttemptScript pushes an attempt and trims the list in one step
	addAttemptScript = `
local list_key = KEYS[1]     -- whosthere:attempts:{profile}

local attempt = ARGV[1]
local retention = tonumber(ARGV[2])

redis.call('LPUSH', list_key, attempt)
redis.call('LTRIM', list_key, 0, retention - 1)

return redis.call('LLEN', list_key)
`
)
