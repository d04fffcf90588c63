package server

import (
	"github.com/russellromney/redlite-sub002/internal/resp"
)

func init() {
	registerOpt("SUBSCRIBE", -2, cmdSubscribe, subscribedOK)
	registerOpt("UNSUBSCRIBE", -1, cmdUnsubscribe, subscribedOK)
	registerOpt("PSUBSCRIBE", -2, cmdPSubscribe, subscribedOK)
	registerOpt("PUNSUBSCRIBE", -1, cmdPUnsubscribe, subscribedOK)
	register("PUBLISH", 2, cmdPublish)
	register("PUBSUB", -2, cmdPubSub)
	registerOpt("PING", -1, cmdPing, subscribedOK)
}

func cmdPing(c *conn, args [][]byte) resp.Value {
	if len(args) == 1 {
		return resp.Bulk(args[0])
	}
	return resp.Simple("PONG")
}

func cmdPublish(c *conn, args [][]byte) resp.Value {
	n := c.srv.broker.Publish(string(args[0]), args[1])
	return resp.Integer(n)
}

// cmdSubscribe attaches receivers and emits one confirmation frame per
// channel: ["subscribe", channel, count]. Transitions Normal -> Subscribed.
func cmdSubscribe(c *conn, args [][]byte) resp.Value {
	return c.subscribeFrames("subscribe", args, false)
}

func cmdPSubscribe(c *conn, args [][]byte) resp.Value {
	return c.subscribeFrames("psubscribe", args, true)
}

func cmdUnsubscribe(c *conn, args [][]byte) resp.Value {
	return c.unsubscribeFrames("unsubscribe", args, false)
}

func cmdPUnsubscribe(c *conn, args [][]byte) resp.Value {
	return c.unsubscribeFrames("punsubscribe", args, true)
}

// cmdPubSub covers the CHANNELS and NUMSUB introspection subcommands.
func cmdPubSub(c *conn, args [][]byte) resp.Value {
	switch upper(string(args[0])) {
	case "CHANNELS":
		pattern := ""
		if len(args) > 1 {
			pattern = string(args[1])
		}
		return stringArray(c.srv.broker.Channels(pattern))
	case "NUMSUB":
		out := make([]resp.Value, 0, (len(args)-1)*2)
		for _, a := range args[1:] {
			out = append(out,
				resp.Bulk(a),
				resp.Integer(c.srv.broker.NumSub(string(a))),
			)
		}
		return resp.Array(out...)
	default:
		return resp.Error("ERR unknown PUBSUB subcommand '" + lower(string(args[0])) + "'")
	}
}
