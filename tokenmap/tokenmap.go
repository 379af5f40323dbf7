// Package tokenmap declares the replica map consulted by token-aware
// load balancing. The core only moves a TokenMap around; building and
// querying it belongs to the policy implementations.
package tokenmap

import (
	"github.com/ringdb/ring-go-driver/host"
)

type TokenMap interface {
	AddHost(h *host.Host)
	RemoveHostAndBuild(h *host.Host)
	UpdateKeyspacesAndBuild()
	Build()
	Clear()
}
