package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/resp"
)

func init() {
	register("GET", 1, cmdGet)
	register("SET", -3, cmdSet)
	register("SETNX", 2, cmdSetNX)
	register("SETEX", 3, cmdSetEX)
	register("PSETEX", 3, cmdPSetEX)
	register("GETDEL", 1, cmdGetDel)
	register("APPEND", 2, cmdAppend)
	register("STRLEN", 1, cmdStrlen)
	register("GETRANGE", 3, cmdGetRange)
	register("SETRANGE", 3, cmdSetRange)
	register("INCR", 1, cmdIncr)
	register("DECR", 1, cmdDecr)
	register("INCRBY", 2, cmdIncrBy)
	register("DECRBY", 2, cmdDecrBy)
	register("INCRBYFLOAT", 2, cmdIncrByFloat)
	register("MGET", -2, cmdMGet)
	register("MSET", -3, cmdMSet)
}

func cmdGet(c *conn, args [][]byte) resp.Value {
	v, err := c.db.Get(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	if v == nil {
		return resp.NilBulk()
	}
	return resp.Bulk(v)
}

// cmdSet parses the recognized options {EX, PX, EXAT, PXAT, NX, XX, KEEPTTL}.
func cmdSet(c *conn, args [][]byte) resp.Value {
	key, value := string(args[0]), args[1]
	var opts kv.SetOptions

	for i := 2; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		switch opt {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "KEEPTTL":
			opts.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			i++
			if i >= len(args) {
				return resp.Error("ERR syntax error")
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil || n <= 0 {
				return resp.Error("ERR invalid expire time in 'set' command")
			}
			switch opt {
			case "EX":
				opts.TTL = time.Duration(n) * time.Second
			case "PX":
				opts.TTL = time.Duration(n) * time.Millisecond
			case "EXAT":
				opts.ExpireAtMs = n * 1000
			case "PXAT":
				opts.ExpireAtMs = n
			}
		default:
			return resp.Error("ERR syntax error")
		}
	}
	if opts.NX && opts.XX {
		return resp.Error("ERR syntax error")
	}

	set, err := c.db.Set(key, value, opts)
	if err != nil {
		return c.kvError(err)
	}
	if !set {
		return resp.NilBulk()
	}
	return resp.OK
}

func cmdSetNX(c *conn, args [][]byte) resp.Value {
	set, err := c.db.Set(string(args[0]), args[1], kv.SetOptions{NX: true})
	if err != nil {
		return c.kvError(err)
	}
	if set {
		return resp.Integer(1)
	}
	return resp.Integer(0)
}

func cmdSetEX(c *conn, args [][]byte) resp.Value {
	return setWithTTL(c, args, time.Second)
}

func cmdPSetEX(c *conn, args [][]byte) resp.Value {
	return setWithTTL(c, args, time.Millisecond)
}

func setWithTTL(c *conn, args [][]byte, unit time.Duration) resp.Value {
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil || n <= 0 {
		return resp.Error("ERR invalid expire time")
	}
	if _, err := c.db.Set(string(args[0]), args[2], kv.SetOptions{TTL: time.Duration(n) * unit}); err != nil {
		return c.kvError(err)
	}
	return resp.OK
}

func cmdGetDel(c *conn, args [][]byte) resp.Value {
	v, err := c.db.GetDel(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	if v == nil {
		return resp.NilBulk()
	}
	return resp.Bulk(v)
}

func cmdAppend(c *conn, args [][]byte) resp.Value {
	n, err := c.db.Append(string(args[0]), args[1])
	if err != nil {
		return c.kvError(err)
	}
	return resp.Integer(n)
}

func cmdStrlen(c *conn, args [][]byte) resp.Value {
	n, err := c.db.Strlen(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return resp.Integer(n)
}

func cmdGetRange(c *conn, args [][]byte) resp.Value {
	start, err1 := strconv.ParseInt(string(args[1]), 10, 64)
	end, err2 := strconv.ParseInt(string(args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	v, err := c.db.GetRange(string(args[0]), start, end)
	if err != nil {
		return c.kvError(err)
	}
	return resp.Bulk(v)
}

func cmdSetRange(c *conn, args [][]byte) resp.Value {
	offset, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil || offset < 0 {
		return resp.Error("ERR offset is out of range")
	}
	n, err := c.db.SetRange(string(args[0]), offset, args[2])
	if err != nil {
		return c.kvError(err)
	}
	return resp.Integer(n)
}

func cmdIncr(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.Incr(string(args[0])))
}

func cmdDecr(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.Decr(string(args[0])))
}

func cmdIncrBy(c *conn, args [][]byte) resp.Value {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	return intReply(c)(c.db.IncrBy(string(args[0]), delta))
}

func cmdDecrBy(c *conn, args [][]byte) resp.Value {
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	return intReply(c)(c.db.DecrBy(string(args[0]), delta))
}

func cmdIncrByFloat(c *conn, args [][]byte) resp.Value {
	delta, err := strconv.ParseFloat(string(args[1]), 64)
	if err != nil {
		return resp.Error("ERR value is not a valid float")
	}
	v, err := c.db.IncrByFloat(string(args[0]), delta)
	if err != nil {
		return c.kvError(err)
	}
	return resp.BulkString(strconv.FormatFloat(v, 'f', -1, 64))
}

func cmdMGet(c *conn, args [][]byte) resp.Value {
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = string(a)
	}
	values, err := c.db.MGet(keys...)
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

func cmdMSet(c *conn, args [][]byte) resp.Value {
	if len(args)%2 != 0 {
		return resp.Error("ERR wrong number of arguments for 'mset' command")
	}
	pairs := make(map[string][]byte, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs[string(args[i])] = args[i+1]
	}
	if err := c.db.MSet(pairs); err != nil {
		return c.kvError(err)
	}
	return resp.OK
}

// intReply adapts the common (int64, error) shape.
func intReply(c *conn) func(int64, error) resp.Value {
	return func(n int64, err error) resp.Value {
		if err != nil {
			return c.kvError(err)
		}
		return resp.Integer(n)
	}
}
