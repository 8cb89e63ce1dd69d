package bus

import (
	"path/filepath"
	"strings"
)

// Route binds an AMQP-style topic pattern to the logical queue name that
// should receive it. Pattern and routing key are compared word by word
// (split on "."), each word with filepath.Match glob syntax, so "*" stands
// for exactly one word; the multi-word "#" wildcard is not supported.
// Redis Streams has no server-side pattern matching, so the topic-exchange
// routing semantics of spec §6 ("Queues used by the orchestrator:
// JOBSTEP_RESULT, WORKFLOW, ...", each bound by a routing-key pattern like
// "*.result") are resolved in-process at publish time instead.
type Route struct {
	Pattern string
	Queue   string
}

type Router struct {
	routes []Route
}

func NewRouter(routes ...Route) *Router {
	return &Router{routes: routes}
}

// Match returns every queue whose pattern matches routingKey.
func (r *Router) Match(routingKey string) []string {
	var queues []string
	keyWords := strings.Split(routingKey, ".")
	for _, rt := range r.routes {
		patWords := strings.Split(rt.Pattern, ".")
		if len(patWords) != len(keyWords) {
			continue
		}
		matched := true
		for i, pw := range patWords {
			if ok, _ := filepath.Match(pw, keyWords[i]); !ok {
				matched = false
				break
			}
		}
		if matched {
			queues = append(queues, rt.Queue)
		}
	}
	return queues
}
