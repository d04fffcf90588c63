package server

import (
	"strconv"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/resp"
)

func init() {
	register("XADD", -5, cmdXAdd)
	register("XLEN", 1, cmdXLen)
	register("XRANGE", -4, cmdXRange)
	register("XREVRANGE", -4, cmdXRevRange)
	register("XREAD", -4, cmdXRead)
	register("XDEL", -3, cmdXDel)
	register("XTRIM", -4, cmdXTrim)
	register("XGROUP", -5, cmdXGroup)
}

// cmdXAdd parses XADD key [NOMKSTREAM] [MAXLEN [~|=] n | MINID [~|=] id]
// id field value [field value ...].
func cmdXAdd(c *conn, args [][]byte) resp.Value {
	key := string(args[0])
	opts := kv.XAddOptions{}

	i := 1
loop:
	for i < len(args) {
		switch upper(string(args[i])) {
		case "NOMKSTREAM":
			opts.NoMkStream = true
			i++
		case "MAXLEN":
			i++
			i = skipApprox(args, i, &opts)
			if i >= len(args) {
				return resp.Error("ERR syntax error")
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil || n < 0 {
				return resp.Error("ERR value is not an integer or out of range")
			}
			opts.MaxLen = n
			i++
		case "MINID":
			i++
			i = skipApprox(args, i, &opts)
			if i >= len(args) {
				return resp.Error("ERR syntax error")
			}
			id, err := kv.ParseStreamID(string(args[i]), 0)
			if err != nil {
				return c.kvError(err)
			}
			opts.MinID = &id
			i++
		default:
			break loop
		}
	}

	if i >= len(args) {
		return resp.Error("ERR wrong number of arguments for 'xadd' command")
	}
	opts.ID = string(args[i])
	i++

	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.Error("ERR wrong number of arguments for 'xadd' command")
	}
	fields := make([]kv.FieldValue, 0, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		fields = append(fields, kv.FieldValue{Field: string(rest[j]), Value: rest[j+1]})
	}

	id, err := c.db.XAdd(key, opts, fields...)
	if err != nil {
		return c.kvError(err)
	}
	if id == nil {
		return resp.NilBulk()
	}
	return resp.BulkString(id.String())
}

func skipApprox(args [][]byte, i int, opts *kv.XAddOptions) int {
	if i < len(args) {
		switch string(args[i]) {
		case "~":
			opts.Approx = true
			return i + 1
		case "=":
			return i + 1
		}
	}
	return i
}

func cmdXLen(c *conn, args [][]byte) resp.Value {
	return intReply(c)(c.db.XLen(string(args[0])))
}

func cmdXRange(c *conn, args [][]byte) resp.Value {
	return xrangeReply(c, args, false)
}

func cmdXRevRange(c *conn, args [][]byte) resp.Value {
	return xrangeReply(c, args, true)
}

func xrangeReply(c *conn, args [][]byte, rev bool) resp.Value {
	// XREVRANGE takes (end, start); normalize to (start, end).
	first, second := string(args[1]), string(args[2])
	if rev {
		first, second = second, first
	}
	start, err := kv.ParseRangeID(first, false)
	if err != nil {
		return c.kvError(err)
	}
	end, err := kv.ParseRangeID(second, true)
	if err != nil {
		return c.kvError(err)
	}

	count := int64(0)
	if len(args) > 3 {
		if len(args) != 5 || upper(string(args[3])) != "COUNT" {
			return resp.Error("ERR syntax error")
		}
		n, err := strconv.ParseInt(string(args[4]), 10, 64)
		if err != nil || n < 0 {
			return resp.Error("ERR value is not an integer or out of range")
		}
		count = n
	}

	var entries []kv.StreamEntry
	if rev {
		entries, err = c.db.XRevRange(string(args[0]), start, end, count)
	} else {
		entries, err = c.db.XRange(string(args[0]), start, end, count)
	}
	if err != nil {
		return c.kvError(err)
	}
	return streamEntriesReply(entries)
}

// cmdXRead parses XREAD [COUNT n] STREAMS key [key ...] id [id ...].
func cmdXRead(c *conn, args [][]byte) resp.Value {
	count := int64(0)
	i := 0
	if upper(string(args[i])) == "COUNT" {
		if len(args) < 2 {
			return resp.Error("ERR syntax error")
		}
		n, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil || n < 0 {
			return resp.Error("ERR value is not an integer or out of range")
		}
		count = n
		i = 2
	}
	if i >= len(args) || upper(string(args[i])) != "STREAMS" {
		return resp.Error("ERR syntax error")
	}
	i++

	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.Error("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(rest) / 2
	keys := toStrings(rest[:n])
	after := make([]kv.StreamID, n)
	for j := 0; j < n; j++ {
		spec := string(rest[n+j])
		if spec == "$" {
			// "$" means only entries after the current tip.
			last, err := c.db.XRevRange(keys[j], kv.MinStreamID, kv.MaxStreamID, 1)
			if err != nil {
				return c.kvError(err)
			}
			if len(last) > 0 {
				after[j] = last[0].ID
			}
			continue
		}
		id, err := kv.ParseStreamID(spec, 0)
		if err != nil {
			return c.kvError(err)
		}
		after[j] = id
	}

	out, err := c.db.XRead(keys, after, count)
	if err != nil {
		return c.kvError(err)
	}
	if len(out) == 0 {
		return resp.NilArray()
	}

	perKey := make([]resp.Value, 0, len(out))
	for _, key := range keys {
		entries, ok := out[key]
		if !ok {
			continue
		}
		perKey = append(perKey, resp.Array(resp.BulkString(key), streamEntriesReply(entries)))
	}
	return resp.Array(perKey...)
}

func cmdXDel(c *conn, args [][]byte) resp.Value {
	ids := make([]kv.StreamID, 0, len(args)-1)
	for _, a := range args[1:] {
		id, err := kv.ParseStreamID(string(a), 0)
		if err != nil {
			return c.kvError(err)
		}
		ids = append(ids, id)
	}
	return intReply(c)(c.db.XDel(string(args[0]), ids...))
}

// cmdXTrim parses XTRIM key MAXLEN [~|=] n | MINID [~|=] id.
func cmdXTrim(c *conn, args [][]byte) resp.Value {
	opts := kv.XAddOptions{}
	i := 1
	switch upper(string(args[i])) {
	case "MAXLEN":
		i++
		i = skipApprox(args, i, &opts)
		if i >= len(args) {
			return resp.Error("ERR syntax error")
		}
		n, err := strconv.ParseInt(string(args[i]), 10, 64)
		if err != nil || n < 0 {
			return resp.Error("ERR value is not an integer or out of range")
		}
		return intReply(c)(c.db.XTrim(string(args[0]), n, nil))
	case "MINID":
		i++
		i = skipApprox(args, i, &opts)
		if i >= len(args) {
			return resp.Error("ERR syntax error")
		}
		id, err := kv.ParseStreamID(string(args[i]), 0)
		if err != nil {
			return c.kvError(err)
		}
		return intReply(c)(c.db.XTrim(string(args[0]), 0, &id))
	default:
		return resp.Error("ERR syntax error")
	}
}

// cmdXGroup covers the SETID / CREATECONSUMER / DELCONSUMER subcommands.
func cmdXGroup(c *conn, args [][]byte) resp.Value {
	sub := upper(string(args[0]))
	switch sub {
	case "SETID":
		if len(args) != 4 {
			return resp.Error("ERR wrong number of arguments for 'xgroup|setid' command")
		}
		id, err := kv.ParseStreamID(string(args[3]), 0)
		if err != nil {
			return c.kvError(err)
		}
		if err := c.db.XGroupSetID(string(args[1]), string(args[2]), id); err != nil {
			return c.kvError(err)
		}
		return resp.OK
	case "CREATECONSUMER":
		if len(args) != 4 {
			return resp.Error("ERR wrong number of arguments for 'xgroup|createconsumer' command")
		}
		created, err := c.db.XGroupCreateConsumer(string(args[1]), string(args[2]), string(args[3]))
		if err != nil {
			return c.kvError(err)
		}
		return boolInt(created)
	case "DELCONSUMER":
		if len(args) != 4 {
			return resp.Error("ERR wrong number of arguments for 'xgroup|delconsumer' command")
		}
		return intReply(c)(c.db.XGroupDelConsumer(string(args[1]), string(args[2]), string(args[3])))
	default:
		return resp.Error("ERR unknown XGROUP subcommand '" + lower(sub) + "'")
	}
}

func streamEntriesReply(entries []kv.StreamEntry) resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		flat := make([]resp.Value, 0, len(e.Fields)*2)
		for _, fv := range e.Fields {
			flat = append(flat, resp.BulkString(fv.Field), resp.Bulk(fv.Value))
		}
		out[i] = resp.Array(resp.BulkString(e.ID.String()), resp.Array(flat...))
	}
	return resp.Array(out...)
}
