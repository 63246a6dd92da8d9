package session

import (
	"github.com/hazyhaar/moisson/capture"
	"github.com/hazyhaar/moisson/challenge"
	"github.com/hazyhaar/moisson/search"
)

// A Session must keep satisfying every consumer's page surface; the fakes
// in those packages implement the interfaces themselves, so this is the
// only place the real type is checked against them.
var (
	_ challenge.Page = (*Session)(nil)
	_ search.Page    = (*Session)(nil)
	_ capture.Page   = (*Session)(nil)
)
