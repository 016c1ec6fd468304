package queue

import redis "github.com/redis/go-redis/v9"

// claimScript promotes due delayed jobs, pops the lowest score from wait and leases it
// under a fresh token.
// KEYS: wait, active, delayed. ARGV: now ms, lease deadline ms, job key prefix, lease token.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[3], id)
	local score = redis.call('HGET', ARGV[3] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[1], score, id)
		redis.call('HSET', ARGV[3] .. id, 'state', 'waiting')
	end
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
local id = popped[1]
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', ARGV[3] .. id, 'state', 'active', 'processed_at', ARGV[1], 'lease', ARGV[4])
return id
`)

// leaseCheck is prepended to every script acting on a held job. It returns 0 unless the
// job is in the active set and its stored token matches.
// KEYS[1]: active, KEYS[2]: job hash. ARGV[1]: job id, ARGV[2]: lease token.
const leaseCheck = `
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
if redis.call('HGET', KEYS[2], 'lease') ~= ARGV[2] then
	return 0
end
`

// extendScript renews a lease.
// ARGV[3]: new deadline ms.
var extendScript = redis.NewScript(leaseCheck + `
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// completeScript finishes a job, deleting it or moving it to completed.
// KEYS[3]: completed. ARGV[3]: now ms, ARGV[4]: "1" to delete.
var completeScript = redis.NewScript(leaseCheck + `
redis.call('ZREM', KEYS[1], ARGV[1])
if ARGV[4] == '1' then
	redis.call('DEL', KEYS[2])
	return 1
end
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'completed', 'finished_at', ARGV[3])
redis.call('HDEL', KEYS[2], 'lease')
return 1
`)

// failScript records a failed attempt.
// KEYS[3]: delayed, KEYS[4]: failed. ARGV[3]: now ms, ARGV[4]: retry|remove|fail,
// ARGV[5]: ready at ms, ARGV[6]: attempts made, ARGV[7]: reason.
var failScript = redis.NewScript(leaseCheck + `
redis.call('ZREM', KEYS[1], ARGV[1])
if ARGV[4] == 'remove' then
	redis.call('DEL', KEYS[2])
	return 1
end
redis.call('HDEL', KEYS[2], 'lease')
if ARGV[4] == 'retry' then
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
	redis.call('HSET', KEYS[2], 'attempts_made', ARGV[6], 'failed_reason', ARGV[7], 'state', 'delayed')
	return 1
end
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], 'attempts_made', ARGV[6], 'failed_reason', ARGV[7], 'state', 'failed', 'finished_at', ARGV[3])
return 1
`)

// requeueScript moves jobs whose lease expired back to wait with their original score and
// revokes the expired lease.
// KEYS: active, wait. ARGV: now ms, job key prefix.
var requeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[1], id)
	local score = redis.call('HGET', ARGV[2] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[2], score, id)
		redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
		redis.call('HDEL', ARGV[2] .. id, 'lease')
	end
end
return #expired
`)
