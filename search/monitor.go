package search

// Monitor provides hooks to observe a query as it runs.
// Implement this interface to trace intermediate rankings.
type Monitor interface {
	Start(query *Query)
	AfterExpansion(terms []string)
	AfterModality(modality Modality, ranking Ranking, err error)
	AfterFusion(results []*Result)
	AfterFilter(results []*Result)
	Finish(response *Response)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ *Query)                               {}
func (n *noopMonitor) AfterExpansion(_ []string)                    {}
func (n *noopMonitor) AfterModality(_ Modality, _ Ranking, _ error) {}
func (n *noopMonitor) AfterFusion(_ []*Result)                      {}
func (n *noopMonitor) AfterFilter(_ []*Result)                      {}
func (n *noopMonitor) Finish(_ *Response)                           {}
