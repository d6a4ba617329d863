// Package oracle provides oracle-network price source adapters.
package oracle

import "github.com/rz1989s/saros-price-oracle/pkg/server/sources"

func init() {
	sources.Register("oracle.pyth", NewPythSource)
}
