package workflow

// Edge is a control-flow outcome selected by the router.
type Edge string

// Router edges.
const (
	EdgeFail          Edge = "Fail"
	EdgeSucceed       Edge = "Succeed"
	EdgeInvokeUpdate  Edge = "InvokeUpdate"
	EdgeInvokeOnboard Edge = "InvokeOnboard"
)

// Rule pairs a predicate with the edge taken when it matches.
// Cause is attached to the decision for Fail edges.
type Rule struct {
	Name  string
	Match func(WorkItem) bool
	Edge  Edge
	Cause error
}

// Decision is the router's output for one WorkItem.
type Decision struct {
	Edge  Edge
	Rule  string
	Cause error
}

// Router evaluates an ordered rule table; the first match wins and the
// otherwise rule applies when nothing matches.
type Router struct {
	rules     []Rule
	otherwise Rule
}

// NewRouter creates a Router from an ordered rule table and a fallback.
func NewRouter(rules []Rule, otherwise Rule) Router {
	return Router{
		rules:     rules,
		otherwise: otherwise,
	}
}

// RefreshRouter returns the routing table shared by the batch workflow families.
func RefreshRouter() Router {
	return NewRouter(
		[]Rule{
			{
				Name:  "status-absent",
				Match: func(w WorkItem) bool { return !w.HasStatus() },
				Edge:  EdgeFail,
				Cause: ErrMissingStatus,
			},
			{
				Name:  "success",
				Match: func(w WorkItem) bool { return w.Status == StatusSuccess },
				Edge:  EdgeSucceed,
			},
			{
				Name:  "in-progress-update",
				Match: inProgress(WorkflowUpdate),
				Edge:  EdgeInvokeUpdate,
			},
			{
				Name:  "in-progress-onboard",
				Match: inProgress(WorkflowOnboard),
				Edge:  EdgeInvokeOnboard,
			},
		},
		Rule{
			Name:  "otherwise",
			Edge:  EdgeFail,
			Cause: ErrUnroutableState,
		},
	)
}

// Rules returns a copy of the ordered rule table.
func (r Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Route selects the edge for item. It has no side effects.
func (r Router) Route(item WorkItem) Decision {
	for _, rule := range r.rules {
		if rule.Match(item) {
			return Decision{Edge: rule.Edge, Rule: rule.Name, Cause: rule.Cause}
		}
	}
	return Decision{Edge: r.otherwise.Edge, Rule: r.otherwise.Name, Cause: r.otherwise.Cause}
}

func inProgress(t WorkflowType) func(WorkItem) bool {
	return func(w WorkItem) bool {
		return w.Status.InProgress() && w.WorkflowType == t
	}
}
