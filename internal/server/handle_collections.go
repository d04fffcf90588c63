package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/resp"
)

func init() {
	// Hashes
	register("HSET", -4, cmdHSet)
	register("HMSET", -4, cmdHMSet)
	register("HGET", 2, cmdHGet)
	register("HMGET", -3, cmdHMGet)
	register("HGETALL", 1, cmdHGetAll)
	register("HDEL", -3, cmdHDel)
	register("HEXISTS", 2, cmdHExists)
	register("HLEN", 1, cmdHLen)
	register("HKEYS", 1, cmdHKeys)
	register("HVALS", 1, cmdHVals)
	register("HINCRBY", 3, cmdHIncrBy)
	register("HSCAN", -3, cmdHScan)

	// Lists
	register("LPUSH", -3, cmdLPush)
	register("RPUSH", -3, cmdRPush)
	register("LPUSHX", -3, cmdLPushX)
	register("RPUSHX", -3, cmdRPushX)
	register("LPOP", -2, cmdLPop)
	register("RPOP", -2, cmdRPop)
	register("LRANGE", 3, cmdLRange)
	register("LINDEX", 2, cmdLIndex)
	register("LLEN", 1, cmdLLen)
	register("LTRIM", 3, cmdLTrim)
	register("LSET", 3, cmdLSet)
	register("LMOVE", 4, cmdLMove)
	register("LPOS", -3, cmdLPos)

	// Sets
	register("SADD", -3, cmdSAdd)
	register("SREM", -3, cmdSRem)
	register("SMEMBERS", 1, cmdSMembers)
	register("SISMEMBER", 2, cmdSIsMember)
	register("SCARD", 1, cmdSCard)
	register("SPOP", -2, cmdSPop)
	register("SRANDMEMBER", -2, cmdSRandMember)
	register("SDIFF", -2, cmdSDiff)
	register("SINTER", -2, cmdSInter)
	register("SUNION", -2, cmdSUnion)
	register("SSCAN", -3, cmdSScan)

	// Sorted sets
	register("ZADD", -4, cmdZAdd)
	register("ZREM", -3, cmdZRem)
	register("ZSCORE", 2, cmdZScore)
	register("ZCARD", 1, cmdZCard)
	register("ZCOUNT", 3, cmdZCount)
	register("ZINCRBY", 3, cmdZIncrBy)
	register("ZRANGE", -4, cmdZRange)
	register("ZREVRANGE", -4, cmdZRevRange)
	register("ZRANK", 2, cmdZRank)
	register("ZREVRANK", 2, cmdZRevRank)
	register("ZRANGEBYSCORE", -4, cmdZRangeByScore)
	register("ZINTERSTORE", -4, cmdZInterStore)
	register("ZUNIONSTORE", -4, cmdZUnionStore)
	register("ZSCAN", -3, cmdZScan)
}

// ---- hashes ----

func cmdHSet(c *conn, args [][]byte) resp.Value {
	if len(args)%2 != 1 {
		return resp.Error("ERR wrong number of arguments for 'hset' command")
	}
	pairs := make([]kv.FieldValue, 0, len(args)/2)
	for i := 1; i < len(args); i += 2 {
		pairs = append(pairs, kv.FieldValue{Field: string(args[i]), Value: args[i+1]})
	}
	return intReply(c)(c.db.HSet(string(args[0]), pairs...))
}

func cmdHMSet(c *conn, args [][]byte) resp.Value {
	if v := cmdHSet(c, args); v.IsError() {
		return v
	}
	return resp.OK
}

func cmdHGet(c *conn, args [][]byte) resp.Value {
	v, err := c.db.HGet(string(args[0]), string(args[1]))
	if err != nil {
		return c.kvError(err)
	}
	if v == nil {
		return resp.NilBulk()
	}
	return resp.Bulk(v)
}

func cmdHMGet(c *conn, args [][]byte) resp.Value {
	values, err := c.db.HMGet(string(args[0]), toStrings(args[1:])...)
	if err != nil {
		return c.kvError(err)
	}
	out := make([]resp.Value, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = resp.NilBulk()
		} else {
			out[i] = resp.Bulk(v)
		}
	}
	return resp.Array(out...)
}

func cmdHGetAll(c *conn, args [][]byte) resp.Value {
	all, err := c.db.HGetAll(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	out := make([]resp.Value, 0, len(all)*2)
	for _, fv := range all {
		out = append(out, resp.BulkString(fv.Field), resp.Bulk(fv.Value))
	}
	return resp.Array(out...)
}

func cmdHDel(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.HDel(string(args[0]), toStrings(args[1:])...))
}

func cmdHExists(c *conn, args [][]byte) resp.Value {
	ok, err := c.db.HExists(string(args[0]), string(args[1]))
	if err != nil {
		return c.kvError(err)
	}
	return boolInt(ok)
}

func cmdHLen(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.HLen(string(args[0])))
}

func cmdHKeys(c *conn, args [][]byte) resp.Value {
	keys, err := c.db.HKeys(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return stringArray(keys)
}

func cmdHVals(c *conn, args [][]byte) resp.Value {
	vals, err := c.db.HVals(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return bytesArray(vals)
}

func cmdHIncrBy(c *conn, args [][]byte) resp.Value {
	delta, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	return intReply(c)(c.db.HIncrBy(string(args[0]), string(args[1]), delta))
}

func cmdHScan(c *conn, args [][]byte) resp.Value {
	cursor, pattern, count, errv := scanArgs(args[1:])
	if errv != nil {
		return *errv
	}
	res, err := c.db.HScan(string(args[0]), cursor, pattern, count)
	if err != nil {
		return c.kvError(err)
	}
	flat := make([]resp.Value, 0, len(res.Items)*2)
	for _, fv := range res.Items {
		flat = append(flat, resp.BulkString(fv.Field), resp.Bulk(fv.Value))
	}
	return resp.Array(resp.BulkString(res.Cursor), resp.Array(flat...))
}

// ---- lists ----

func cmdLPush(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.LPush(string(args[0]), args[1:]...))
}

func cmdRPush(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.RPush(string(args[0]), args[1:]...))
}

func cmdLPushX(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.LPushX(string(args[0]), args[1:]...))
}

func cmdRPushX(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.RPushX(string(args[0]), args[1:]...))
}

func cmdLPop(c *conn, args [][]byte) resp.Value {
	return popReply(c, args, c.db.LPop)
}

func cmdRPop(c *conn, args [][]byte) resp.Value {
	return popReply(c, args, c.db.RPop)
}

// popReply mirrors Redis reply shapes: a bare pop returns one bulk (or nil),
// an explicit COUNT returns an array.
func popReply(c *conn, args [][]byte, fn func(string, int64) ([][]byte, error)) resp.Value {
	if len(args) > 2 {
		return resp.Error("ERR syntax error")
	}
	count := int64(1)
	withCount := len(args) == 2
	if withCount {
		n, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil || n < 0 {
			return resp.Error("ERR value is out of range, must be positive")
		}
		count = n
	}
	popped, err := fn(string(args[0]), count)
	if err != nil {
		return c.kvError(err)
	}
	if !withCount {
		if len(popped) == 0 {
			return resp.NilBulk()
		}
		return resp.Bulk(popped[0])
	}
	if len(popped) == 0 {
		return resp.NilArray()
	}
	return bytesArray(popped)
}

func cmdLRange(c *conn, args [][]byte) resp.Value {
	start, err1 := strconv.ParseInt(string(args[1]), 10, 64)
	stop, err2 := strconv.ParseInt(string(args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	values, err := c.db.LRange(string(args[0]), start, stop)
	if err != nil {
		return c.kvError(err)
	}
	return bytesArray(values)
}

func cmdLIndex(c *conn, args [][]byte) resp.Value {
	idx, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	v, err := c.db.LIndex(string(args[0]), idx)
	if err != nil {
		return c.kvError(err)
	}
	if v == nil {
		return resp.NilBulk()
	}
	return resp.Bulk(v)
}

func cmdLLen(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.LLen(string(args[0])))
}

func cmdLTrim(c *conn, args [][]byte) resp.Value {
	start, err1 := strconv.ParseInt(string(args[1]), 10, 64)
	stop, err2 := strconv.ParseInt(string(args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	if err := c.db.LTrim(string(args[0]), start, stop); err != nil {
		return c.kvError(err)
	}
	return resp.OK
}

func cmdLSet(c *conn, args [][]byte) resp.Value {
	idx, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	if err := c.db.LSet(string(args[0]), idx, args[2]); err != nil {
		return c.kvError(err)
	}
	return resp.OK
}

func cmdLMove(c *conn, args [][]byte) resp.Value {
	from, ok1 := parseEnd(string(args[2]))
	to, ok2 := parseEnd(string(args[3]))
	if !ok1 || !ok2 {
		return resp.Error("ERR syntax error")
	}
	v, err := c.db.LMove(string(args[0]), string(args[1]), from, to)
	if err != nil {
		return c.kvError(err)
	}
	if v == nil {
		return resp.NilBulk()
	}
	return resp.Bulk(v)
}

func parseEnd(s string) (kv.ListEnd, bool) {
	switch strings.ToUpper(s) {
	case "LEFT":
		return kv.Left, true
	case "RIGHT":
		return kv.Right, true
	}
	return kv.Left, false
}

// cmdLPos parses LPOS key element [RANK r] [COUNT n] [MAXLEN m].
func cmdLPos(c *conn, args [][]byte) resp.Value {
	rank, count, maxlen := int64(1), int64(1), int64(0)
	withCount := false
	for i := 2; i < len(args); i++ {
		if i+1 >= len(args) {
			return resp.Error("ERR syntax error")
		}
		n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
		if err != nil {
			return resp.Error("ERR value is not an integer or out of range")
		}
		switch upper(string(args[i])) {
		case "RANK":
			if n == 0 {
				return resp.Error("ERR RANK can't be zero")
			}
			rank = n
		case "COUNT":
			if n < 0 {
				return resp.Error("ERR COUNT can't be negative")
			}
			count = n
			withCount = true
		case "MAXLEN":
			if n < 0 {
				return resp.Error("ERR MAXLEN can't be negative")
			}
			maxlen = n
		default:
			return resp.Error("ERR syntax error")
		}
		i++
	}

	idx, err := c.db.LPos(string(args[0]), args[1], rank, count, maxlen)
	if err != nil {
		return c.kvError(err)
	}
	if !withCount {
		if len(idx) == 0 {
			return resp.NilBulk()
		}
		return resp.Integer(idx[0])
	}
	out := make([]resp.Value, len(idx))
	for i, n := range idx {
		out[i] = resp.Integer(n)
	}
	return resp.Array(out...)
}

// ---- sets ----

func cmdSAdd(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.SAdd(string(args[0]), args[1:]...))
}

func cmdSRem(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.SRem(string(args[0]), args[1:]...))
}

func cmdSMembers(c *conn, args [][]byte) resp.Value {
	members, err := c.db.SMembers(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return bytesArray(members)
}

func cmdSIsMember(c *conn, args [][]byte) resp.Value {
	ok, err := c.db.SIsMember(string(args[0]), args[1])
	if err != nil {
		return c.kvError(err)
	}
	return boolInt(ok)
}

func cmdSCard(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.SCard(string(args[0])))
}

func cmdSPop(c *conn, args [][]byte) resp.Value {
	return popReply(c, args, c.db.SPop)
}

func cmdSRandMember(c *conn, args [][]byte) resp.Value {
	count := int64(1)
	withCount := len(args) == 2
	if withCount {
		n, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return resp.Error("ERR value is not an integer or out of range")
		}
		count = n
	}
	members, err := c.db.SRandMember(string(args[0]), count)
	if err != nil {
		return c.kvError(err)
	}
	if !withCount {
		if len(members) == 0 {
			return resp.NilBulk()
		}
		return resp.Bulk(members[0])
	}
	return bytesArray(members)
}

func cmdSDiff(c *conn, args [][]byte) resp.Value {
	return setOpReply(c)(c.db.SDiff(toStrings(args)...))
}

func cmdSInter(c *conn, args [][]byte) resp.Value {
	return setOpReply(c)(c.db.SInter(toStrings(args)...))
}

func cmdSUnion(c *conn, args [][]byte) resp.Value {
	return setOpReply(c)(c.db.SUnion(toStrings(args)...))
}

func setOpReply(c *conn) func([][]byte, error) resp.Value {
	return func(members [][]byte, err error) resp.Value {
		if err != nil {
			return c.kvError(err)
		}
		return bytesArray(members)
	}
}

func cmdSScan(c *conn, args [][]byte) resp.Value {
	cursor, pattern, count, errv := scanArgs(args[1:])
	if errv != nil {
		return *errv
	}
	res, err := c.db.SScan(string(args[0]), cursor, pattern, count)
	if err != nil {
		return c.kvError(err)
	}
	return resp.Array(resp.BulkString(res.Cursor), bytesArray(res.Members))
}

// ---- sorted sets ----

func cmdZAdd(c *conn, args [][]byte) resp.Value {
	if len(args)%2 != 1 {
		return resp.Error("ERR syntax error")
	}
	members := make([]kv.ZMember, 0, len(args)/2)
	for i := 1; i < len(args); i += 2 {
		score, err := strconv.ParseFloat(string(args[i]), 64)
		if err != nil {
			return resp.Error("ERR value is not a valid float")
		}
		members = append(members, kv.ZMember{Member: args[i+1], Score: score})
	}
	return intReply(c)(c.db.ZAdd(string(args[0]), members...))
}

func cmdZRem(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.ZRem(string(args[0]), args[1:]...))
}

func cmdZScore(c *conn, args [][]byte) resp.Value {
	score, err := c.db.ZScore(string(args[0]), args[1])
	if err != nil {
		return c.kvError(err)
	}
	if score == nil {
		return resp.NilBulk()
	}
	return resp.BulkString(formatScore(*score))
}

func cmdZCard(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.ZCard(string(args[0])))
}

func cmdZCount(c *conn, args [][]byte) resp.Value {
	min, err1 := parseScoreBound(string(args[1]))
	max, err2 := parseScoreBound(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.Error("ERR min or max is not a float")
	}
	return intReply(c)(c.db.ZCount(string(args[0]), min, max))
}

func cmdZIncrBy(c *conn, args [][]byte) resp.Value {
	delta, err := strconv.ParseFloat(string(args[1]), 64)
	if err != nil {
		return resp.Error("ERR value is not a valid float")
	}
	score, err := c.db.ZIncrBy(string(args[0]), delta, args[2])
	if err != nil {
		return c.kvError(err)
	}
	return resp.BulkString(formatScore(score))
}

func cmdZRange(c *conn, args [][]byte) resp.Value {
	return zrangeReply(c, args, c.db.ZRange)
}

func cmdZRevRange(c *conn, args [][]byte) resp.Value {
	return zrangeReply(c, args, c.db.ZRevRange)
}

func zrangeReply(c *conn, args [][]byte, fn func(string, int64, int64) ([]kv.ZMember, error)) resp.Value {
	start, err1 := strconv.ParseInt(string(args[1]), 10, 64)
	stop, err2 := strconv.ParseInt(string(args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	withScores := false
	if len(args) == 4 {
		if upper(string(args[3])) != "WITHSCORES" {
			return resp.Error("ERR syntax error")
		}
		withScores = true
	} else if len(args) > 4 {
		return resp.Error("ERR syntax error")
	}

	members, err := fn(string(args[0]), start, stop)
	if err != nil {
		return c.kvError(err)
	}
	return zmembersReply(members, withScores)
}

func cmdZRank(c *conn, args [][]byte) resp.Value {
	return rankReply(c)(c.db.ZRank(string(args[0]), args[1]))
}

func cmdZRevRank(c *conn, args [][]byte) resp.Value {
	return rankReply(c)(c.db.ZRevRank(string(args[0]), args[1]))
}

func rankReply(c *conn) func(*int64, error) resp.Value {
	return func(rank *int64, err error) resp.Value {
		if err != nil {
			return c.kvError(err)
		}
		if rank == nil {
			return resp.NilBulk()
		}
		return resp.Integer(*rank)
	}
}

func cmdZRangeByScore(c *conn, args [][]byte) resp.Value {
	min, err1 := parseScoreBound(string(args[1]))
	max, err2 := parseScoreBound(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.Error("ERR min or max is not a float")
	}
	withScores := false
	if len(args) == 4 {
		if upper(string(args[3])) != "WITHSCORES" {
			return resp.Error("ERR syntax error")
		}
		withScores = true
	} else if len(args) > 4 {
		return resp.Error("ERR syntax error")
	}
	members, err := c.db.ZRangeByScore(string(args[0]), min, max)
	if err != nil {
		return c.kvError(err)
	}
	return zmembersReply(members, withScores)
}

// cmdZInterStore / cmdZUnionStore parse:
// dst numkeys key [key ...] [WEIGHTS w ...] [AGGREGATE SUM|MIN|MAX]
func cmdZInterStore(c *conn, args [][]byte) resp.Value {
	return zstoreReply(c, args, c.db.ZInterStore)
}

func cmdZUnionStore(c *conn, args [][]byte) resp.Value {
	return zstoreReply(c, args, c.db.ZUnionStore)
}

func zstoreReply(c *conn, args [][]byte,
	fn func(string, []string, []float64, kv.Aggregate) (int64, error)) resp.Value {

	dst := string(args[0])
	numKeys, err := strconv.Atoi(string(args[1]))
	if err != nil || numKeys <= 0 || len(args) < 2+numKeys {
		return resp.Error("ERR at least 1 input key is needed")
	}
	keys := toStrings(args[2 : 2+numKeys])

	var weights []float64
	agg := kv.AggSum
	for i := 2 + numKeys; i < len(args); i++ {
		switch upper(string(args[i])) {
		case "WEIGHTS":
			if i+numKeys >= len(args) {
				return resp.Error("ERR syntax error")
			}
			weights = make([]float64, numKeys)
			for j := 0; j < numKeys; j++ {
				w, err := strconv.ParseFloat(string(args[i+1+j]), 64)
				if err != nil {
					return resp.Error("ERR weight value is not a float")
				}
				weights[j] = w
			}
			i += numKeys
		case "AGGREGATE":
			i++
			if i >= len(args) {
				return resp.Error("ERR syntax error")
			}
			switch upper(string(args[i])) {
			case "SUM":
				agg = kv.AggSum
			case "MIN":
				agg = kv.AggMin
			case "MAX":
				agg = kv.AggMax
			default:
				return resp.Error("ERR syntax error")
			}
		default:
			return resp.Error("ERR syntax error")
		}
	}

	return intReply(c)(fn(dst, keys, weights, agg))
}

func cmdZScan(c *conn, args [][]byte) resp.Value {
	cursor, pattern, count, errv := scanArgs(args[1:])
	if errv != nil {
		return *errv
	}
	res, err := c.db.ZScan(string(args[0]), cursor, pattern, count)
	if err != nil {
		return c.kvError(err)
	}
	flat := make([]resp.Value, 0, len(res.Members)*2)
	for _, m := range res.Members {
		flat = append(flat, resp.Bulk(m.Member), resp.BulkString(formatScore(m.Score)))
	}
	return resp.Array(resp.BulkString(res.Cursor), resp.Array(flat...))
}

func zmembersReply(members []kv.ZMember, withScores bool) resp.Value {
	if !withScores {
		out := make([]resp.Value, len(members))
		for i, m := range members {
			out[i] = resp.Bulk(m.Member)
		}
		return resp.Array(out...)
	}
	out := make([]resp.Value, 0, len(members)*2)
	for _, m := range members {
		out = append(out, resp.Bulk(m.Member), resp.BulkString(formatScore(m.Score)))
	}
	return resp.Array(out...)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseScoreBound accepts numbers and ±inf. Exclusive '(' bounds are not
// part of the covered command surface.
func parseScoreBound(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "-inf":
		return -math.MaxFloat64, nil
	case "+inf", "inf":
		return math.MaxFloat64, nil
	}
	return strconv.ParseFloat(s, 64)
}
