package topology

const (
	// directPodLimit caps the backing pods consulted for the entity
	// itself.
	directPodLimit = 3
	// transitivePodLimit caps the backing pods consulted per direct
	// dependency.
	transitivePodLimit = 2
)

// EntityDeps is the flattened functional dependency set of one entity:
// everything it calls or depends on, directly or one hop further out.
type EntityDeps struct {
	Direct     []string `json:"direct"`
	Transitive []string `json:"transitive"`
}

// All merges both tiers into one sorted list.
func (d EntityDeps) All() []string {
	merged := map[string]bool{}
	for _, id := range d.Direct {
		merged[id] = true
	}
	for _, id := range d.Transitive {
		merged[id] = true
	}
	return sortedKeys(merged)
}

// DiscoverDeps resolves the entity and collects its functional
// dependencies. Only calls and depends_on edges count; containment is
// structure, not dependency. Because depends_on edges usually hang off
// pods rather than the service itself, the pods backing the entity
// contribute their dependencies too, and the same one hop is taken
// from each direct dependency to surface transitive ones.
func (g *Graph) DiscoverDeps(entity string) (EntityDeps, bool) {
	idx := g.index()
	entityID, ok := findEntity(idx, g.Nodes, entity)
	if !ok {
		return EntityDeps{}, false
	}
	self := aliasSet(idx, entityID)

	direct := functionalTargets(idx, self, directPodLimit)
	for id := range self {
		delete(direct, id)
	}

	transitive := map[string]bool{}
	for _, dep := range sortedKeys(direct) {
		depSet := aliasSet(idx, dep)
		for target := range functionalTargets(idx, depSet, transitivePodLimit) {
			if !direct[target] && !self[target] && !depSet[target] {
				transitive[target] = true
			}
		}
	}

	return EntityDeps{
		Direct:     sortedKeys(direct),
		Transitive: sortedKeys(transitive),
	}, true
}

// functionalTargets collects the calls/depends_on targets of every
// seed node and of up to podLimit pods backing the seeds.
func functionalTargets(idx *graphIndex, seeds map[string]bool, podLimit int) map[string]bool {
	out := map[string]bool{}
	collect := func(id string) {
		for _, e := range idx.outgoing[id] {
			if functionalRelation(e.Relation) {
				out[e.Target] = true
			}
		}
	}
	for _, id := range sortedKeys(seeds) {
		collect(id)
	}
	for _, pod := range backingPods(idx, seeds, podLimit) {
		collect(pod)
	}
	return out
}

// backingPods walks contains edges downward from the seeds and returns
// up to limit Pod node ids in BFS order.
func backingPods(idx *graphIndex, seeds map[string]bool, limit int) []string {
	visited := map[string]bool{}
	frontier := sortedKeys(seeds)
	for _, id := range frontier {
		visited[id] = true
	}

	var pods []string
	for len(frontier) > 0 && len(pods) < limit {
		var next []string
		for _, id := range frontier {
			for _, e := range idx.outgoing[id] {
				if e.Relation != RelationContains || visited[e.Target] {
					continue
				}
				visited[e.Target] = true
				if idx.nodes[e.Target].Kind == "Pod" {
					pods = append(pods, e.Target)
				}
				next = append(next, e.Target)
			}
		}
		frontier = next
	}
	if len(pods) > limit {
		pods = pods[:limit]
	}
	return pods
}
