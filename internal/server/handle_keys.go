package server

import (
	"strconv"

	"github.com/russellromney/redlite-sub002/internal/resp"
)

func init() {
	register("DEL", -2, cmdDel)
	register("EXISTS", -2, cmdExists)
	register("TYPE", 1, cmdType)
	register("TTL", 1, cmdTTL)
	register("PTTL", 1, cmdPTTL)
	register("EXPIRE", 2, cmdExpire)
	register("PEXPIRE", 2, cmdPExpire)
	register("EXPIREAT", 2, cmdExpireAt)
	register("PEXPIREAT", 2, cmdPExpireAt)
	register("PERSIST", 1, cmdPersist)
	register("RENAME", 2, cmdRename)
	register("RENAMENX", 2, cmdRenameNX)
	register("KEYS", 1, cmdKeys)
	register("DBSIZE", 0, cmdDBSize)
	register("FLUSHDB", 0, cmdFlushDB)
	register("SELECT", 1, cmdSelect)
	register("SCAN", -2, cmdScan)
}

func cmdDel(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.Del(toStrings(args)...))
}

func cmdExists(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.Exists(toStrings(args)...))
}

func cmdType(c *conn, args [][]byte) resp.Value {
	typ, err := c.db.Type(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return resp.Simple(typ)
}

func cmdTTL(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.TTL(string(args[0])))
}

func cmdPTTL(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.PTTL(string(args[0])))
}

func cmdExpire(c *conn, args [][]byte) resp.Value {
	return expireWith(c, args, c.db.Expire)
}

func cmdPExpire(c *conn, args [][]byte) resp.Value {
	return expireWith(c, args, c.db.PExpire)
}

func cmdExpireAt(c *conn, args [][]byte) resp.Value {
	return expireWith(c, args, c.db.ExpireAt)
}

func cmdPExpireAt(c *conn, args [][]byte) resp.Value {
	return expireWith(c, args, c.db.PExpireAt)
}

func expireWith(c *conn, args [][]byte, fn func(string, int64) (bool, error)) resp.Value {
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	ok, err := fn(string(args[0]), n)
	if err != nil {
		return c.kvError(err)
	}
	return boolInt(ok)
}

func cmdPersist(c *conn, args [][]byte) resp.Value {
	ok, err := c.db.Persist(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return boolInt(ok)
}

func cmdRename(c *conn, args [][]byte) resp.Value {
	if err := c.db.Rename(string(args[0]), string(args[1])); err != nil {
		return c.kvError(err)
	}
	return resp.OK
}

func cmdRenameNX(c *conn, args [][]byte) resp.Value {
	ok, err := c.db.RenameNX(string(args[0]), string(args[1]))
	if err != nil {
		return c.kvError(err)
	}
	return boolInt(ok)
}

func cmdKeys(c *conn, args [][]byte) resp.Value {
	keys, err := c.db.Keys(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	return stringArray(keys)
}

func cmdDBSize(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.DBSize())
}

func cmdFlushDB(c *conn, args [][]byte) resp.Value {
	if err := c.db.FlushDB(); err != nil {
		return c.kvError(err)
	}
	return resp.OK
}

func cmdSelect(c *conn, args [][]byte) resp.Value {
	idx, err := strconv.Atoi(string(args[0]))
	if err != nil {
		return resp.Error("ERR value is not an integer or out of range")
	}
	db, err := c.db.Select(idx)
	if err != nil {
		return resp.Error("ERR DB index is out of range")
	}
	c.db = db
	return resp.OK
}

// cmdScan parses SCAN cursor [MATCH pattern] [COUNT n].
func cmdScan(c *conn, args [][]byte) resp.Value {
	cursor, pattern, count, errv := scanArgs(args)
	if errv != nil {
		return *errv
	}
	res, err := c.db.Scan(cursor, pattern, count)
	if err != nil {
		return c.kvError(err)
	}
	return resp.Array(resp.BulkString(res.Cursor), stringArray(res.Keys))
}

// scanArgs parses the shared cursor [MATCH p] [COUNT n] suffix. For typed
// scans the key argument has already been stripped.
func scanArgs(args [][]byte) (cursor, pattern string, count int64, errv *resp.Value) {
	cursor = string(args[0])
	for i := 1; i < len(args); i++ {
		switch upper(string(args[i])) {
		case "MATCH":
			i++
			if i >= len(args) {
				e := resp.Error("ERR syntax error")
				return "", "", 0, &e
			}
			pattern = string(args[i])
		case "COUNT":
			i++
			if i >= len(args) {
				e := resp.Error("ERR syntax error")
				return "", "", 0, &e
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil || n <= 0 {
				e := resp.Error("ERR value is not an integer or out of range")
				return "", "", 0, &e
			}
			count = n
		default:
			e := resp.Error("ERR syntax error")
			return "", "", 0, &e
		}
	}
	return cursor, pattern, count, nil
}

func toStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

func stringArray(ss []string) resp.Value {
	out := make([]resp.Value, len(ss))
	for i, s := range ss {
		out[i] = resp.BulkString(s)
	}
	return resp.Array(out...)
}

func bytesArray(bb [][]byte) resp.Value {
	out := make([]resp.Value, len(bb))
	for i, b := range bb {
		out[i] = resp.Bulk(b)
	}
	return resp.Array(out...)
}

func boolInt(ok bool) resp.Value {
	if ok {
		return resp.Integer(1)
	}
	return resp.Integer(0)
}

func upper(s string) string {
	b := []byte(s)
	for i, ch := range b {
		if ch >= 'a' && ch <= 'z' {
			b[i] = ch - 32
		}
	}
	return string(b)
}
