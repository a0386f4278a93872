package topology

import (
	"sort"
	"strings"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/query"
)

const (
	// ModeDependencies walks calls/depends_on edges around an entity.
	ModeDependencies = "dependencies"
	// ModeServiceContext places an entity in the call graph.
	ModeServiceContext = "service_context"
	// ModeInfraContext shows containment and infra dependencies.
	ModeInfraContext = "infra_context"

	// maxChainDepth bounds call-chain DFS.
	maxChainDepth = 10
	// maxChainOutput caps enumerated chains per direction.
	maxChainOutput = 20
	// maxCandidates caps the not-found candidate sample.
	maxCandidates = 20
)

// AnalyzeParams selects the analysis mode and target entity.
type AnalyzeParams struct {
	Mode      string `json:"mode,omitempty"`
	Entity    string `json:"entity"`
	Hops      int    `json:"hops,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// DepEntry is one discovered dependency.
type DepEntry struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Directed string `json:"direction"`
}

// Analyzer answers topology queries against a loaded graph.
type Analyzer struct {
	logger *logging.Logger
}

func NewAnalyzer(logger *logging.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze dispatches to the requested mode. An unknown entity yields a
// not_found document with candidates, never an error: graph queries
// are exploratory.
func (a *Analyzer) Analyze(g *Graph, p AnalyzeParams) (interface{}, error) {
	if p.Entity == "" {
		return nil, models.NewParameterError("entity", "entity is required")
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeDependencies
	}

	idx := g.index()
	entityID, ok := findEntity(idx, g.Nodes, p.Entity)
	if !ok {
		return notFound(idx, g.Nodes, p.Entity), nil
	}

	switch mode {
	case ModeDependencies:
		return a.dependencies(idx, entityID, p), nil
	case ModeServiceContext:
		return a.serviceContext(idx, entityID), nil
	case ModeInfraContext:
		return a.infraContext(idx, entityID), nil
	default:
		return nil, models.NewParameterError("mode", "unknown mode %q. Use: %s, %s, %s",
			mode, ModeDependencies, ModeServiceContext, ModeInfraContext)
	}
}

// findEntity resolves a query string to a node id: exact id,
// case-insensitive id, name by kind priority, any name, substring.
func findEntity(idx *graphIndex, nodes []Node, entity string) (string, bool) {
	if _, ok := idx.nodes[entity]; ok {
		return entity, true
	}

	lower := strings.ToLower(entity)
	for _, n := range nodes {
		if strings.ToLower(n.ID) == lower {
			return n.ID, true
		}
	}

	for _, kind := range []string{"App", "Service", "Deployment", "Pod", "ReplicaSet"} {
		for _, n := range nodes {
			if n.Kind == kind && strings.ToLower(n.Name) == lower {
				return n.ID, true
			}
		}
	}
	for _, n := range nodes {
		if strings.ToLower(n.Name) == lower {
			return n.ID, true
		}
	}
	for _, n := range nodes {
		if strings.Contains(strings.ToLower(n.ID), lower) {
			return n.ID, true
		}
	}
	return "", false
}

func notFound(idx *graphIndex, nodes []Node, entity string) map[string]interface{} {
	var candidates []string
	for _, n := range nodes {
		switch n.Kind {
		case "App", "Service", "Pod":
			candidates = append(candidates, n.ID)
		}
		if len(candidates) == maxCandidates {
			break
		}
	}
	return map[string]interface{}{
		"not_found":  true,
		"entity":     entity,
		"candidates": candidates,
	}
}

// entityHeader is the common preamble of every analysis document.
func entityHeader(idx *graphIndex, entityID string) map[string]interface{} {
	node := idx.nodes[entityID]
	aliases := aliasSet(idx, entityID)
	var others []string
	for id := range aliases {
		if id != entityID {
			others = append(others, id)
		}
	}
	sort.Strings(others)
	return map[string]interface{}{
		"entity":    idx.name(entityID),
		"kind":      node.Kind,
		"name":      node.Name,
		"namespace": node.Namespace,
		"aliases":   others,
	}
}

// aliasSet collects the entity and everything linked to it by is_alias
// edges in either direction.
func aliasSet(idx *graphIndex, entityID string) map[string]bool {
	aliases := map[string]bool{entityID: true}
	for _, e := range idx.outgoing[entityID] {
		if e.Relation == RelationIsAlias {
			aliases[e.Target] = true
		}
	}
	for _, e := range idx.incoming[entityID] {
		if e.Relation == RelationIsAlias {
			aliases[e.Source] = true
		}
	}
	return aliases
}

func functionalRelation(rel string) bool {
	return rel == RelationCalls || rel == RelationDependsOn
}

// dependencies BFS-walks functional edges up to p.Hops (default 1) in
// the requested direction and splits the result into direct (hop 1)
// and transitive (later hops).
func (a *Analyzer) dependencies(idx *graphIndex, entityID string, p AnalyzeParams) map[string]interface{} {
	hops := p.Hops
	if hops <= 0 {
		hops = 1
	}
	direction := p.Direction
	if direction == "" {
		direction = "both"
	}

	seeds := aliasSet(idx, entityID)
	visited := map[string]bool{}
	for id := range seeds {
		visited[id] = true
	}

	type visit struct {
		entry DepEntry
		hop   int
	}
	var found []visit

	frontier := make([]string, 0, len(seeds))
	for id := range seeds {
		frontier = append(frontier, id)
	}
	sort.Strings(frontier)

	for hop := 1; hop <= hops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			if direction == "outgoing" || direction == "both" {
				for _, e := range idx.outgoing[id] {
					if !functionalRelation(e.Relation) || visited[e.Target] {
						continue
					}
					visited[e.Target] = true
					node := idx.nodes[e.Target]
					found = append(found, visit{hop: hop, entry: DepEntry{
						ID: e.Target, Kind: node.Kind, Name: idx.name(e.Target),
						Relation: e.Relation, Directed: "outgoing",
					}})
					next = append(next, e.Target)
				}
			}
			if direction == "incoming" || direction == "both" {
				for _, e := range idx.incoming[id] {
					if !functionalRelation(e.Relation) || visited[e.Source] {
						continue
					}
					visited[e.Source] = true
					node := idx.nodes[e.Source]
					found = append(found, visit{hop: hop, entry: DepEntry{
						ID: e.Source, Kind: node.Kind, Name: idx.name(e.Source),
						Relation: e.Relation, Directed: "incoming",
					}})
					next = append(next, e.Source)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}

	direct := []DepEntry{}
	transitive := []DepEntry{}
	for _, v := range found {
		if v.hop == 1 {
			direct = append(direct, v.entry)
		} else {
			transitive = append(transitive, v.entry)
		}
	}
	sortDeps(direct)
	sortDeps(transitive)

	result := entityHeader(idx, entityID)
	result["mode"] = ModeDependencies
	result["hops"] = hops
	result["direction"] = direction
	result["direct"] = direct
	result["transitive"] = transitive
	return result
}

func sortDeps(deps []DepEntry) {
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
}

// callGraph is the normalized (de-aliased) service call graph.
type callGraph struct {
	out map[string]map[string]bool
	in  map[string]map[string]bool
	// aliasOf maps a Service node id back to its App name.
	aliasOf map[string]string
}

func buildCallGraph(idx *graphIndex) *callGraph {
	cg := &callGraph{
		out:     map[string]map[string]bool{},
		in:      map[string]map[string]bool{},
		aliasOf: map[string]string{},
	}
	for src, edges := range idx.outgoing {
		for _, e := range edges {
			if e.Relation == RelationIsAlias {
				cg.aliasOf[e.Target] = src
			}
		}
	}
	for src, edges := range idx.outgoing {
		for _, e := range edges {
			if e.Relation != RelationCalls {
				continue
			}
			ns, nt := cg.normalize(src), cg.normalize(e.Target)
			if cg.out[ns] == nil {
				cg.out[ns] = map[string]bool{}
			}
			if cg.in[nt] == nil {
				cg.in[nt] = map[string]bool{}
			}
			cg.out[ns][nt] = true
			cg.in[nt][ns] = true
		}
	}
	return cg
}

func (cg *callGraph) normalize(id string) string {
	if app, ok := cg.aliasOf[id]; ok {
		return app
	}
	return id
}

func (cg *callGraph) roots() []string {
	var roots []string
	for id := range cg.members() {
		if len(cg.in[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

func (cg *callGraph) leaves() []string {
	var leaves []string
	for id := range cg.members() {
		if len(cg.out[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

func (cg *callGraph) members() map[string]bool {
	m := map[string]bool{}
	for id := range cg.out {
		m[id] = true
	}
	for id := range cg.in {
		m[id] = true
	}
	return m
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// serviceContext places the entity in the normalized call graph:
// callers, callees, cluster entry/exit points, and enumerated chains.
func (a *Analyzer) serviceContext(idx *graphIndex, entityID string) map[string]interface{} {
	cg := buildCallGraph(idx)
	aliases := aliasSet(idx, entityID)

	normAliases := map[string]bool{}
	for id := range aliases {
		normAliases[cg.normalize(id)] = true
	}

	callers := map[string]bool{}
	callees := map[string]bool{}
	for id := range normAliases {
		for caller := range cg.in[id] {
			callers[idx.name(caller)] = true
		}
		for callee := range cg.out[id] {
			callees[idx.name(callee)] = true
		}
	}

	// Pod-level depends_on edges promote to deployment-level callers
	// for infra services outside the declared call graph.
	infraCallers := map[string]bool{}
	for id := range aliases {
		for _, e := range idx.incoming[id] {
			if e.Relation != RelationDependsOn {
				continue
			}
			if idx.nodes[e.Source].Kind != "Pod" {
				continue
			}
			infraCallers[query.DeploymentFromPod(idx.name(e.Source))] = true
		}
	}
	for name := range infraCallers {
		callers[name] = true
	}

	roots := cg.roots()
	leaves := cg.leaves()

	chainsTo := findChainsTo(cg, idx, roots, normAliases)
	chainsFrom := findChainsFrom(cg, idx, normAliases, leaves)

	if len(chainsTo) == 0 && len(infraCallers) > 0 {
		entityName := idx.name(entityID)
		for _, caller := range sortedKeys(infraCallers) {
			chainsTo = append(chainsTo, caller+" -> "+entityName+" (infra)")
		}
	}

	result := entityHeader(idx, entityID)
	result["mode"] = ModeServiceContext
	result["root_services"] = displayNames(idx, roots)
	result["leaf_services"] = displayNames(idx, leaves)
	result["callers"] = sortedKeys(callers)
	result["callees"] = sortedKeys(callees)
	result["paths_from_root"] = capChains(chainsTo)
	result["paths_to_leaf"] = capChains(chainsFrom)
	return result
}

func displayNames(idx *graphIndex, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, idx.name(id))
	}
	sort.Strings(names)
	return names
}

func capChains(chains []string) []string {
	if chains == nil {
		return []string{}
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range chains {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	if len(out) > maxChainOutput {
		out = out[:maxChainOutput]
	}
	return out
}

// findChainsTo enumerates call chains from entry-point services down
// to the target set, cycle-guarded and depth-capped.
func findChainsTo(cg *callGraph, idx *graphIndex, roots []string, targets map[string]bool) []string {
	var chains []string
	var dfs func(current string, path []string, visited map[string]bool)
	dfs = func(current string, path []string, visited map[string]bool) {
		if len(path) > maxChainDepth {
			return
		}
		if targets[current] {
			chains = append(chains, strings.Join(path, " -> "))
			return
		}
		for _, callee := range sortedKeys(cg.out[current]) {
			if visited[callee] {
				continue
			}
			visited[callee] = true
			dfs(callee, append(path, idx.name(callee)), visited)
			delete(visited, callee)
		}
	}

	for _, root := range roots {
		if targets[root] {
			chains = append(chains, idx.name(root))
			continue
		}
		dfs(root, []string{idx.name(root)}, map[string]bool{root: true})
	}
	return chains
}

// findChainsFrom enumerates call chains from the entity down to leaf
// services.
func findChainsFrom(cg *callGraph, idx *graphIndex, sources map[string]bool, leaves []string) []string {
	leafSet := map[string]bool{}
	for _, l := range leaves {
		leafSet[l] = true
	}

	var chains []string
	var dfs func(current string, path []string, visited map[string]bool)
	dfs = func(current string, path []string, visited map[string]bool) {
		if len(path) > maxChainDepth {
			return
		}
		callees := cg.out[current]
		if len(callees) == 0 || leafSet[current] {
			if len(path) > 1 {
				chains = append(chains, strings.Join(path, " -> "))
			}
			return
		}
		for _, callee := range sortedKeys(callees) {
			if visited[callee] {
				continue
			}
			visited[callee] = true
			dfs(callee, append(path, idx.name(callee)), visited)
			delete(visited, callee)
		}
	}

	for _, source := range sortedKeys(sources) {
		dfs(source, []string{idx.name(source)}, map[string]bool{source: true})
	}
	return chains
}

// infraContext walks containment upward (owners) and downward
// (children) and groups the entity's depends_on targets by kind.
func (a *Analyzer) infraContext(idx *graphIndex, entityID string) map[string]interface{} {
	aliases := aliasSet(idx, entityID)

	owners := map[string]bool{}
	children := map[string]bool{}
	dependsOn := map[string]map[string]bool{}

	var walkUp func(id string, depth int)
	walkUp = func(id string, depth int) {
		if depth > maxChainDepth {
			return
		}
		for _, e := range idx.incoming[id] {
			if e.Relation != RelationContains || owners[e.Source] {
				continue
			}
			owners[e.Source] = true
			walkUp(e.Source, depth+1)
		}
	}

	for id := range aliases {
		walkUp(id, 0)
		for _, e := range idx.outgoing[id] {
			switch e.Relation {
			case RelationContains:
				children[e.Target] = true
			case RelationDependsOn:
				kind := idx.nodes[e.Target].Kind
				if kind == "" {
					kind = "Unknown"
				}
				if dependsOn[kind] == nil {
					dependsOn[kind] = map[string]bool{}
				}
				dependsOn[kind][idx.name(e.Target)] = true
			}
		}
	}
	delete(owners, entityID)

	grouped := map[string][]string{}
	for kind, names := range dependsOn {
		grouped[kind] = sortedKeys(names)
	}

	result := entityHeader(idx, entityID)
	result["mode"] = ModeInfraContext
	result["owners"] = sortedKeys(owners)
	result["contains"] = sortedKeys(children)
	result["depends_on"] = grouped
	return result
}
