// Package directory keeps track of the remote agents an orchestrator may
// delegate to.
//
// Registration dials an address, fetches the agent's self description and
// indexes capability tokens derived from its skills and descriptions. Lookup
// by capability is a case-insensitive substring match over that index and
// only ever returns active agents. HealthCheck probes all agents
// concurrently; Monitor repeats it on an interval.
//
//	dir := directory.New(func(o *directory.Options) { o.Dialer = a2a.NewDialer() })
//	dir.Register(ctx, "http://localhost:9001")
//	movies := dir.FindByCapabilities([]string{"comedy"})
package directory
