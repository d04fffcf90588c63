package server

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/internal/kv"
	"github.com/russellromney/redlite-sub002/internal/resp"
	"github.com/russellromney/redlite-sub002/internal/search"
)

// handler executes one command against the connection's current view.
type handler func(c *conn, args [][]byte) resp.Value

// command describes a dispatch table entry. arity counts arguments after the
// name: exact when >= 0, minimum when negative (-N means at least N-1).
type command struct {
	fn    handler
	arity int
	// subscribedOK marks the few commands accepted in subscribe mode.
	subscribedOK bool
	// notQueueable rejects the command at MULTI queue time; these touch
	// session state the batch transaction cannot host.
	notQueueable bool
}

func (cmd command) checkArity(n int) bool {
	if cmd.arity >= 0 {
		return n == cmd.arity
	}
	return n >= -cmd.arity-1
}

// dispatch routes one parsed command through the state machine.
func (c *conn) dispatch(name string, args [][]byte) resp.Value {
	cmd, ok := commands[name]
	if !ok {
		if c.state == stateTransaction {
			// A bad command poisons the queue; EXEC will abort.
			c.txDirty = true
		}
		return resp.Error(fmt.Sprintf("ERR unknown command '%s'", name))
	}
	if !cmd.checkArity(len(args)) {
		if c.state == stateTransaction {
			c.txDirty = true
		}
		return resp.Error(fmt.Sprintf("ERR wrong number of arguments for '%s' command", lower(name)))
	}

	switch c.state {
	case stateSubscribed:
		if !cmd.subscribedOK {
			return resp.Error(fmt.Sprintf(
				"ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context",
				lower(name)))
		}
	case stateTransaction:
		switch name {
		case "EXEC", "DISCARD", "MULTI":
			// Control commands run immediately.
		case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PUBLISH":
			// Pub/sub is forbidden inside a transaction; state unchanged.
			return resp.Error("ERR " + name + " is not allowed in transactions")
		default:
			if cmd.notQueueable {
				c.txDirty = true
				return resp.Error(fmt.Sprintf("ERR %s is not allowed in transactions", name))
			}
			c.queue = append(c.queue, queuedCommand{name: name, args: args})
			return resp.Simple("QUEUED")
		}
	}

	return cmd.fn(c, args)
}

// execTransaction replays the queue inside one SQL transaction. Any error
// reply from a queued command rolls the whole batch back and becomes EXEC's
// single error reply.
func (c *conn) execTransaction() resp.Value {
	queue := c.queue
	c.queue = nil
	dirty := c.txDirty
	c.txDirty = false
	c.state = stateNormal

	if dirty {
		return resp.Error("EXECABORT Transaction discarded because of previous errors.")
	}

	replies := make([]resp.Value, 0, len(queue))
	var abort resp.Value
	outer := c.db

	err := c.db.Store().Session().Transaction(func(tx *sql.Tx) error {
		c.db = outer.WithTx(tx)
		for _, q := range queue {
			cmd := commands[q.name]
			reply := cmd.fn(c, q.args)
			if reply.IsError() {
				abort = reply
				return errTxAborted
			}
			replies = append(replies, reply)
		}
		return nil
	})

	// Keep the index a queued SELECT chose, but drop the tx binding.
	selected, selErr := c.db.Store().DB(c.db.Index())
	if selErr == nil {
		c.db = selected
	} else {
		c.db = outer
	}

	if err != nil {
		if errors.Is(err, errTxAborted) {
			return abort
		}
		c.log.Error("exec failed", zap.Error(err))
		return resp.Error("ERR transaction failed")
	}
	return resp.Value{Kind: resp.KindArray, Array: replies}
}

var errTxAborted = errors.New("transaction aborted")

// kvError maps engine errors onto wire error frames. Storage details are
// logged, never sent.
func (c *conn) kvError(err error) resp.Value {
	switch {
	case errors.Is(err, kv.ErrWrongType):
		return resp.Error(kv.ErrWrongType.Error())
	case errors.Is(err, kv.ErrNotInteger):
		return resp.Error("ERR value is not an integer or out of range")
	case errors.Is(err, kv.ErrNotFloat):
		return resp.Error("ERR value is not a valid float")
	case errors.Is(err, kv.ErrNotFound):
		return resp.Error("ERR no such key")
	case errors.Is(err, kv.ErrSyntax):
		return resp.Error("ERR syntax error")
	case errors.Is(err, kv.ErrOutOfRange):
		return resp.Error("ERR index out of range")
	case errors.Is(err, kv.ErrInvalidCursor):
		return resp.Error("ERR invalid cursor")
	case errors.Is(err, kv.ErrNoEviction):
		return resp.Error(kv.ErrNoEviction.Error())
	case errors.Is(err, kv.ErrStreamID):
		return resp.Error("ERR " + kv.ErrStreamID.Error())
	default:
		var pe *search.ParseError
		if errors.As(err, &pe) {
			return resp.Error("ERR " + pe.Error())
		}
		c.log.Error("storage failure", zap.Error(err))
		return resp.Error("ERR internal error")
	}
}

func lower(name string) string {
	b := []byte(name)
	for i, ch := range b {
		if ch >= 'A' && ch <= 'Z' {
			b[i] = ch + 32
		}
	}
	return string(b)
}

// commands is the dispatch table. Registration lives next to the handlers in
// the handle_*.go files.
var commands = map[string]command{}

func register(name string, arity int, fn handler) {
	commands[name] = command{fn: fn, arity: arity}
}

func registerOpt(name string, arity int, fn handler, opt func(*command)) {
	cmd := command{fn: fn, arity: arity}
	opt(&cmd)
	commands[name] = cmd
}

func subscribedOK(cmd *command) { cmd.subscribedOK = true }
func notQueueable(cmd *command) { cmd.notQueueable = true }
