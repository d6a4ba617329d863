package sim

import "github.com/rz1989s/saros-price-oracle/pkg/server/sources"

func init() {
	sources.Register("sim.randomwalk", NewRandomWalkSource)
}
