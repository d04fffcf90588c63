package server

import (
	"strconv"

	"github.com/russellromney/redlite-sub002/internal/resp"
	"github.com/russellromney/redlite-sub002/internal/search"
)

func init() {
	register("ECHO", 1, cmdEcho)
	register("CLIENT", -2, cmdClient)
	register("INFO", -1, cmdInfo)
	register("MULTI", 0, cmdMulti)
	register("EXEC", 0, cmdExec)
	register("DISCARD", 0, cmdDiscard)
	registerOpt("VACUUM", 0, cmdVacuum, notQueueable)
	registerOpt("FT.SEARCH", -2, cmdFTSearch, notQueueable)
	registerOpt("FT.EXPLAIN", -2, cmdFTExplain, notQueueable)
	register("JSON.SET", -4, cmdJSONSet)
	register("JSON.GET", 1, cmdJSONGet)
	register("JSON.DEL", -2, cmdJSONDel)
	register("JSON.TYPE", 1, cmdJSONType)
}

func cmdEcho(c *conn, args [][]byte) resp.Value {
	return resp.Bulk(args[0])
}

// cmdClient accepts the connection-metadata subcommands clients send on
// connect; none of them affect command semantics here.
func cmdClient(c *conn, args [][]byte) resp.Value {
	switch upper(string(args[0])) {
	case "SETNAME", "SETINFO", "NO-EVICT", "NO-TOUCH":
		return resp.OK
	case "GETNAME":
		return resp.BulkString("")
	case "ID":
		return resp.Integer(1)
	default:
		return resp.Error("ERR unknown CLIENT subcommand '" + lower(string(args[0])) + "'")
	}
}

func cmdInfo(c *conn, args [][]byte) resp.Value {
	size, err := c.db.DBSize()
	if err != nil {
		return c.kvError(err)
	}
	info := "# Server\r\nredlite_mode:standalone\r\n" +
		"# Keyspace\r\ndb" + strconv.Itoa(c.db.Index()) + ":keys=" + strconv.FormatInt(size, 10) + "\r\n"
	return resp.BulkString(info)
}

func cmdMulti(c *conn, args [][]byte) resp.Value {
	if c.state == stateTransaction {
		return resp.Error("ERR MULTI calls can not be nested")
	}
	c.state = stateTransaction
	c.queue = nil
	c.txDirty = false
	return resp.OK
}

func cmdExec(c *conn, args [][]byte) resp.Value {
	if c.state != stateTransaction {
		return resp.Error("ERR EXEC without MULTI")
	}
	return c.execTransaction()
}

func cmdDiscard(c *conn, args [][]byte) resp.Value {
	if c.state != stateTransaction {
		return resp.Error("ERR DISCARD without MULTI")
	}
	c.queue = nil
	c.txDirty = false
	c.state = stateNormal
	return resp.OK
}

func cmdVacuum(c *conn, args [][]byte) resp.Value {
	n, err := c.db.Store().Vacuum()
	if err != nil {
		return c.kvError(err)
	}
	return resp.Integer(n)
}

// cmdFTSearch parses FT.SEARCH query [VERBATIM] [LIMIT offset num]. The
// index-name positional argument of RediSearch is not used; the query runs
// over the FTS-covered keys of the selected database.
func cmdFTSearch(c *conn, args [][]byte) resp.Value {
	query := string(args[0])
	verbatim := false
	limit := int64(10)
	offset := int64(0)

	for i := 1; i < len(args); i++ {
		switch upper(string(args[i])) {
		case "VERBATIM":
			verbatim = true
		case "LIMIT":
			if i+2 >= len(args) {
				return resp.Error("ERR syntax error")
			}
			off, err1 := strconv.ParseInt(string(args[i+1]), 10, 64)
			num, err2 := strconv.ParseInt(string(args[i+2]), 10, 64)
			if err1 != nil || err2 != nil || off < 0 || num < 0 {
				return resp.Error("ERR syntax error")
			}
			offset, limit = off, num
			i += 2
		default:
			return resp.Error("ERR syntax error")
		}
	}

	hits, err := c.db.FTSearch(query, verbatim, offset+limit)
	if err != nil {
		return c.kvError(err)
	}
	if offset > int64(len(hits)) {
		offset = int64(len(hits))
	}
	hits = hits[offset:]

	// Reply shape: the number of hits returned, then per hit the key and a
	// flat field/value array.
	out := []resp.Value{resp.Integer(int64(len(hits)))}
	for _, h := range hits {
		flat := make([]resp.Value, 0, len(h.Fields)*2)
		for _, fv := range h.Fields {
			flat = append(flat, resp.BulkString(fv.Field), resp.Bulk(fv.Value))
		}
		out = append(out, resp.BulkString(h.Key), resp.Array(flat...))
	}
	return resp.Array(out...)
}

func cmdFTExplain(c *conn, args [][]byte) resp.Value {
	verbatim := len(args) > 1 && upper(string(args[1])) == "VERBATIM"
	nodes, err := c.db.FTExplain(string(args[0]), verbatim)
	if err != nil {
		return c.kvError(err)
	}
	out := make([]resp.Value, len(nodes))
	for i, n := range nodes {
		out[i] = explainValue(n)
	}
	return resp.Array(out...)
}

func explainValue(n search.Node) resp.Value {
	if n.IsLeaf() {
		return resp.BulkString(n.Text)
	}
	out := make([]resp.Value, len(n.Children))
	for i, child := range n.Children {
		out[i] = explainValue(child)
	}
	return resp.Array(out...)
}

func cmdJSONSet(c *conn, args [][]byte) resp.Value {
	nx, xx := false, false
	for _, a := range args[3:] {
		switch upper(string(a)) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		default:
			return resp.Error("ERR syntax error")
		}
	}
	set, err := c.db.JSONSet(string(args[0]), string(args[1]), string(args[2]), nx, xx)
	if err != nil {
		return c.kvError(err)
	}
	if !set {
		return resp.NilBulk()
	}
	return resp.OK
}

func cmdJSONGet(c *conn, args [][]byte) resp.Value {
	doc, err := c.db.JSONGet(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	if doc == nil {
		return resp.NilBulk()
	}
	return resp.BulkString(*doc)
}

func cmdJSONDel(c *conn, args [][]byte) resp.Value {
	path := "$"
	if len(args) > 1 {
		path = string(args[1])
	}
	return intReply(c)(c.db.JSONDel(string(args[0]), path))
}

func cmdJSONType(c *conn, args [][]byte) resp.Value {
	typ, err := c.db.JSONType(string(args[0]))
	if err != nil {
		return c.kvError(err)
	}
	if typ == nil {
		return resp.NilBulk()
	}
	return resp.BulkString(*typ)
}
