// prefix tree for form actions, it is not acessible from upper packages so use an abstraction: Router
package router

import (
	"strings"
)

// tree node
type node struct {
	prefix  string
	ch      []node      // children in flat area for data locality to not miss the cache
	handler FormHandler // form action
	isparam bool        // is node prefix param?
}

// insert node to tree that means link path and handler
func (n *node) insert(path string, h FormHandler) {
	cur := n
	for _, s := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		// skip empty route (/)
		if len(s) == 0 {
			continue
		}

		// params starting from : (:id, :name)
		isparam, pref := s[0] == ':', s
		if isparam {
			pref = s[1:]
		}

		// find child index in flat child array
		idx := -1
		for i := range cur.ch {
			if cur.ch[i].prefix == pref && cur.ch[i].isparam == isparam {
				idx = i
				break
			}
		}

		// if no target -> make new node
		if idx == -1 {
			cur.ch = append(cur.ch, node{prefix: pref, isparam: isparam})
			idx = len(cur.ch) - 1
		}
		cur = &cur.ch[idx]
	}
	// set node handler
	cur.handler = h
}

// find walks the segments of fp, static children win over params;
// matched params are written to params, which may be nil
func (n *node) find(fp string, params map[string]string) FormHandler {
	fp = strings.TrimPrefix(fp, "/")
	if len(fp) == 0 {
		return n.handler
	}

	for i := range n.ch {
		c := &n.ch[i]
		if !c.isparam && strings.HasPrefix(fp, c.prefix) {
			rem := fp[len(c.prefix):]
			if len(rem) == 0 || rem[0] == '/' {
				if h := c.find(rem, params); h != nil {
					return h
				}
			}
		}
	}

	for i := range n.ch {
		c := &n.ch[i]
		if c.isparam {
			end := strings.IndexByte(fp, '/')
			if end == -1 {
				end = len(fp)
			}
			if end == 0 {
				continue
			}

			if h := c.find(fp[end:], params); h != nil {
				if params != nil {
					params[c.prefix] = fp[:end]
				}
				return h
			}
		}
	}

	return nil
}
