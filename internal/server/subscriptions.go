package server

import (
	"github.com/russellromney/redlite-sub002/internal/pubsub"
	"github.com/russellromney/redlite-sub002/internal/resp"
)

// subscribeFrames attaches one receiver per name and returns the
// confirmation frames, one [kind, name, count] triple per new subscription.
// Duplicate names are ignored, matching the engine the wire format mirrors.
func (c *conn) subscribeFrames(kind string, args [][]byte, pattern bool) resp.Value {
	if c.channels == nil {
		c.channels = make(map[string]*pubsub.Receiver)
	}
	if c.patterns == nil {
		c.patterns = make(map[string]*pubsub.Receiver)
	}

	var frames []resp.Value
	for _, a := range args {
		name := string(a)
		if pattern {
			if _, ok := c.patterns[name]; ok {
				continue
			}
			c.patterns[name] = c.srv.broker.SubscribePattern(name)
		} else {
			if _, ok := c.channels[name]; ok {
				continue
			}
			c.channels[name] = c.srv.broker.Subscribe(name)
		}
		frames = append(frames, resp.Array(
			resp.BulkString(kind),
			resp.BulkString(name),
			resp.Integer(int64(c.subscriptionCount())),
		))
	}
	c.state = stateSubscribed

	if len(frames) == 0 {
		return resp.Array(
			resp.BulkString(kind),
			resp.NilBulk(),
			resp.Integer(int64(c.subscriptionCount())),
		)
	}
	// The frames are siblings, not one nested array; flatten them into a
	// single write.
	return flattenFrames(frames)
}

// unsubscribeFrames detaches receivers; with no names, all of the matching
// kind. Returns one confirmation frame per removal, and moves the connection
// back to Normal once no subscriptions remain.
func (c *conn) unsubscribeFrames(kind string, args [][]byte, pattern bool) resp.Value {
	target := c.channels
	if pattern {
		target = c.patterns
	}

	names := toStrings(args)
	if len(names) == 0 {
		for name := range target {
			names = append(names, name)
		}
	}

	var frames []resp.Value
	for _, name := range names {
		r, ok := target[name]
		if !ok {
			continue
		}
		c.srv.broker.Unsubscribe(r)
		delete(target, name)
		frames = append(frames, resp.Array(
			resp.BulkString(kind),
			resp.BulkString(name),
			resp.Integer(int64(c.subscriptionCount())),
		))
	}

	if c.subscriptionCount() == 0 {
		c.state = stateNormal
	}

	if len(frames) == 0 {
		return resp.Array(
			resp.BulkString(kind),
			resp.NilBulk(),
			resp.Integer(int64(c.subscriptionCount())),
		)
	}
	return flattenFrames(frames)
}

// flattenFrames wraps sibling frames for sequential emission. The writer
// renders resp.Multi children back-to-back without an outer array header.
func flattenFrames(frames []resp.Value) resp.Value {
	if len(frames) == 1 {
		return frames[0]
	}
	return resp.Multi(frames...)
}
