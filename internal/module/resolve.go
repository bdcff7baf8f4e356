package module

import (
	"fmt"
	"sort"
)

// Plan is the outcome of Resolve.
type Plan struct {
	// Order lists loadable modules, each after all of its requirements.
	Order []string
	// Skipped maps each wanted module that cannot load to the reason.
	Skipped map[string]error
}

// Resolve orders wanted modules by their requirements. A module is skipped
// when it is unknown, when a requirement is unknown, not wanted,
// version-incompatible or skipped itself, or when it sits on a cycle. Ties
// in the topological order are broken by ID.
func Resolve(descs map[string]Descriptor, wanted []string) Plan {
	plan := Plan{Skipped: make(map[string]error)}

	candidates := make(map[string]Descriptor, len(wanted))
	for _, id := range wanted {
		d, ok := descs[id]
		if !ok {
			plan.Skipped[id] = fmt.Errorf("%w: %s", ErrUnknownModule, id)
			continue
		}
		candidates[id] = d
	}

	for _, scc := range stronglyConnected(candidates) {
		if len(scc) == 1 && !requires(candidates[scc[0]], scc[0]) {
			continue
		}
		path := cyclePath(candidates, scc)
		for _, id := range scc {
			plan.Skipped[id] = &DependencyError{Module: id, Path: path, Err: ErrDependencyCycle}
		}
	}

	checked := make(map[string]bool, len(candidates))
	var check func(id string) error
	check = func(id string) error {
		if err, ok := plan.Skipped[id]; ok {
			return err
		}
		if checked[id] {
			return nil
		}
		checked[id] = true

		for _, req := range candidates[id].Requires {
			if err := checkRequirement(descs, candidates, id, req, check); err != nil {
				plan.Skipped[id] = err
				return err
			}
		}
		return nil
	}
	for _, id := range sortedIDs(candidates) {
		_ = check(id)
	}

	plan.Order = topoSort(candidates, plan.Skipped)
	return plan
}

func checkRequirement(descs, candidates map[string]Descriptor, id string, req Requirement, check func(string) error) error {
	depErr := func(found string, err error) error {
		return &DependencyError{Module: id, Dependency: req.ID, Constraint: req.Version, Found: found, Err: err}
	}

	dep, known := descs[req.ID]
	if !known {
		return depErr("", ErrMissingDependency)
	}
	if _, wanted := candidates[req.ID]; !wanted {
		return depErr("", ErrMissingDependency)
	}
	if !Satisfies(dep.Version, req.Version) {
		return depErr(dep.Version, ErrVersionMismatch)
	}
	if err := check(req.ID); err != nil {
		return depErr("", err)
	}
	return nil
}

func requires(d Descriptor, id string) bool {
	for _, r := range d.Requires {
		if r.ID == id {
			return true
		}
	}
	return false
}

func sortedIDs(m map[string]Descriptor) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// topoSort runs Kahn's algorithm over the modules that were not skipped.
func topoSort(candidates map[string]Descriptor, skipped map[string]error) []string {
	indegree := make(map[string]int)
	dependents := make(map[string][]string)
	for _, id := range sortedIDs(candidates) {
		if _, bad := skipped[id]; bad {
			continue
		}
		indegree[id] = len(candidates[id].Requires)
		for _, req := range candidates[id].Requires {
			dependents[req.ID] = append(dependents[req.ID], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				sort.Strings(ready)
			}
		}
	}
	return order
}

// stronglyConnected returns the strongly connected components of the
// requirement graph restricted to candidates (Tarjan).
func stronglyConnected(candidates map[string]Descriptor) [][]string {
	var (
		index   int
		stack   []string
		onStack = make(map[string]bool)
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		out     [][]string
	)

	var visit func(id string)
	visit = func(id string) {
		indices[id] = index
		lowlink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, req := range candidates[id].Requires {
			if _, ok := candidates[req.ID]; !ok {
				continue
			}
			if _, seen := indices[req.ID]; !seen {
				visit(req.ID)
				lowlink[id] = min(lowlink[id], lowlink[req.ID])
			} else if onStack[req.ID] {
				lowlink[id] = min(lowlink[id], indices[req.ID])
			}
		}

		if lowlink[id] == indices[id] {
			var scc []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				scc = append(scc, top)
				if top == id {
					break
				}
			}
			sort.Strings(scc)
			out = append(out, scc)
		}
	}

	for _, id := range sortedIDs(candidates) {
		if _, seen := indices[id]; !seen {
			visit(id)
		}
	}
	return out
}

// cyclePath finds a closed walk through the first member of scc, for error
// messages such as "a -> b -> a".
func cyclePath(candidates map[string]Descriptor, scc []string) []string {
	members := make(map[string]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}
	start := scc[0]

	prev := map[string]string{}
	queue := []string{start}
	visited := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, req := range candidates[id].Requires {
			if !members[req.ID] {
				continue
			}
			if req.ID == start {
				path := []string{start}
				for at := id; at != start; at = prev[at] {
					path = append(path, at)
				}
				path = append(path, start)
				// path was built backwards from the closing edge
				for i, j := 1, len(path)-2; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			if !visited[req.ID] {
				visited[req.ID] = true
				prev[req.ID] = id
				queue = append(queue, req.ID)
			}
		}
	}
	return append(scc, start)
}

// Dependents returns the modules among the given IDs that require id
// directly or transitively, sorted.
func Dependents(id string, descs map[string]Descriptor, among []string) []string {
	reverse := make(map[string][]string)
	for _, m := range among {
		for _, req := range descs[m].Requires {
			reverse[req.ID] = append(reverse[req.ID], m)
		}
	}

	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, m := range reverse[cur] {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
				queue = append(queue, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Closure returns id and every module it transitively requires, in load
// order. It fails with the reason id would be skipped.
func Closure(descs map[string]Descriptor, id string) ([]string, error) {
	if _, ok := descs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}

	seen := map[string]bool{}
	var walk func(string)
	walk = func(cur string) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		for _, req := range descs[cur].Requires {
			if _, ok := descs[req.ID]; ok {
				walk(req.ID)
			}
		}
	}
	walk(id)

	wanted := make([]string, 0, len(seen))
	for m := range seen {
		wanted = append(wanted, m)
	}
	plan := Resolve(descs, wanted)
	if err, skipped := plan.Skipped[id]; skipped {
		return nil, err
	}
	return plan.Order, nil
}
