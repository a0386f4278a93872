package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

// Architecture declares the logical services and call dependencies of
// the application, independent of how Kubernetes runs them.
type Architecture struct {
	Components struct {
		Services       []ArchComponent `json:"services" yaml:"services"`
		Infrastructure []ArchComponent `json:"infrastructure" yaml:"infrastructure"`
	} `json:"components" yaml:"components"`
	Dependencies []ArchDependency `json:"dependencies" yaml:"dependencies"`
}

// ArchComponent is one declared service or infrastructure element.
type ArchComponent struct {
	Name string `json:"name" yaml:"name"`
}

// ArchDependency is one declared call edge.
type ArchDependency struct {
	Source      string `json:"source" yaml:"source"`
	Target      string `json:"target" yaml:"target"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (d ArchDependency) meta() map[string]string {
	m := map[string]string{}
	if d.Protocol != "" {
		m["protocol"] = d.Protocol
	}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// LoadArchitecture reads an architecture document. YAML and JSON are
// both accepted, keyed off the file extension.
func LoadArchitecture(path string) (*Architecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("architecture file not found: %q", path)
	}
	var arch Architecture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &arch)
	default:
		err = json.Unmarshal(data, &arch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse architecture %q: %w", path, err)
	}
	return &arch, nil
}

// k8sObject is one inventory row with its decoded body.
type k8sObject struct {
	kind, name, namespace string
	body                  map[string]interface{}
}

func (o k8sObject) id() string { return objectID(o.kind, o.name) }

// decodeInto re-marshals the body into a typed Kubernetes struct.
func (o k8sObject) decodeInto(v interface{}) bool {
	if o.body == nil {
		return false
	}
	raw, err := json.Marshal(o.body)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// Builder derives the topology graph from the captured object
// inventory and the architecture document.
type Builder struct {
	cache  *snapshot.TableCache
	logger *logging.Logger
}

func NewBuilder(cache *snapshot.TableCache, logger *logging.Logger) *Builder {
	return &Builder{cache: cache, logger: logger}
}

// Build runs the two build phases: nodes from the inventory and
// architecture, then containment/dependency/call edges.
func (b *Builder) Build(archPath, objectsPath string) (*Graph, error) {
	arch, err := LoadArchitecture(archPath)
	if err != nil {
		return nil, err
	}
	objects, err := b.loadObjects(objectsPath)
	if err != nil {
		return nil, err
	}

	gb := newGraphBuilder()
	b.addInventoryNodes(gb, objects)
	services := serviceMap(objects)
	b.addContainmentEdges(gb, objects)
	b.addPodDependencies(gb, objects, services)
	b.addArchitecture(gb, arch, services)

	g := gb.graph()
	b.logger.Info("built topology: %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	return g, nil
}

// loadObjects reads the processed k8s objects table, keeping the latest
// observation per object.
func (b *Builder) loadObjects(path string) ([]k8sObject, error) {
	table, err := b.cache.Get(path)
	if err != nil {
		return nil, err
	}
	frame := query.FromTable(table)

	bodyCol := "body"
	if !frame.HasColumn(bodyCol) {
		bodyCol = "Body"
	}

	var objects []k8sObject
	seen := map[string]int{}
	for _, row := range frame.Rows {
		obj := k8sObject{
			kind:      query.CellString(row["object_kind"]),
			name:      query.CellString(row["object_name"]),
			namespace: query.CellString(row["namespace"]),
			body:      snapshot.ParseBodyJSON(query.CellString(row[bodyCol])),
		}
		if obj.kind == "" || obj.name == "" {
			continue
		}
		if obj.namespace == "" && obj.kind != "Namespace" {
			obj.namespace = "default"
		}
		key := obj.namespace + "/" + obj.id()
		if i, ok := seen[key]; ok {
			objects[i] = obj // later rows supersede earlier observations
			continue
		}
		seen[key] = len(objects)
		objects = append(objects, obj)
	}
	return objects, nil
}

func (b *Builder) addInventoryNodes(gb *graphBuilder, objects []k8sObject) {
	namespaces := map[string]bool{}
	for _, obj := range objects {
		if obj.namespace != "" {
			namespaces[obj.namespace] = true
		}
		if obj.kind == "Namespace" {
			namespaces[obj.name] = true
		}
	}
	names := make([]string, 0, len(namespaces))
	for ns := range namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		gb.addNode(Node{ID: objectID("Namespace", ns), Kind: "Namespace", Name: ns})
	}

	for _, obj := range objects {
		gb.addNode(Node{ID: obj.id(), Kind: obj.kind, Name: obj.name, Namespace: obj.namespace})
	}

	for _, obj := range objects {
		if obj.kind != "Pod" {
			continue
		}
		var pod corev1.Pod
		if obj.decodeInto(&pod) && pod.Spec.NodeName != "" {
			gb.addNode(Node{ID: objectID("Node", pod.Spec.NodeName), Kind: "Node", Name: pod.Spec.NodeName})
		}
	}
}

// serviceMap indexes Service node ids by namespace and name for alias
// and endpoint resolution.
func serviceMap(objects []k8sObject) map[string]map[string]string {
	services := map[string]map[string]string{}
	for _, obj := range objects {
		if obj.kind != "Service" {
			continue
		}
		if services[obj.namespace] == nil {
			services[obj.namespace] = map[string]string{}
		}
		services[obj.namespace][obj.name] = obj.id()
	}
	return services
}

func (b *Builder) addContainmentEdges(gb *graphBuilder, objects []k8sObject) {
	byKey := map[string]bool{}
	for _, obj := range objects {
		byKey[obj.kind+"/"+obj.namespace+"/"+obj.name] = true
	}

	for _, obj := range objects {
		if obj.namespace != "" && obj.kind != "Namespace" {
			gb.addEdge(objectID("Namespace", obj.namespace), RelationContains, obj.id(), nil)
		}

		var meta metav1.PartialObjectMetadata
		if obj.decodeInto(&meta) {
			for _, ref := range meta.OwnerReferences {
				gb.addEdge(objectID(ref.Kind, ref.Name), RelationContains, obj.id(), nil)
			}
		}

		switch obj.kind {
		case "Service":
			if byKey["Endpoints/"+obj.namespace+"/"+obj.name] {
				gb.addEdge(obj.id(), RelationContains, objectID("Endpoints", obj.name), nil)
			} else {
				b.addSelectorEdges(gb, obj, objects)
			}
		case "Endpoints":
			var ep corev1.Endpoints
			if obj.decodeInto(&ep) {
				for _, subset := range ep.Subsets {
					addrs := append(append([]corev1.EndpointAddress{}, subset.Addresses...), subset.NotReadyAddresses...)
					for _, addr := range addrs {
						if addr.TargetRef != nil && addr.TargetRef.Kind == "Pod" {
							gb.addEdge(obj.id(), RelationContains, objectID("Pod", addr.TargetRef.Name), nil)
						}
					}
				}
			}
		case "Pod":
			var pod corev1.Pod
			if obj.decodeInto(&pod) && pod.Spec.NodeName != "" {
				gb.addEdge(objectID("Node", pod.Spec.NodeName), RelationContains, obj.id(), nil)
			}
		}
	}
}

// addSelectorEdges links a Service to its pods by label selector when
// the snapshot carries no Endpoints object for it.
func (b *Builder) addSelectorEdges(gb *graphBuilder, svc k8sObject, objects []k8sObject) {
	var service corev1.Service
	if !svc.decodeInto(&service) || len(service.Spec.Selector) == 0 {
		return
	}
	for _, obj := range objects {
		if obj.kind != "Pod" || obj.namespace != svc.namespace {
			continue
		}
		var pod corev1.Pod
		if !obj.decodeInto(&pod) {
			continue
		}
		matches := true
		for k, v := range service.Spec.Selector {
			if pod.Labels[k] != v {
				matches = false
				break
			}
		}
		if matches {
			gb.addEdge(svc.id(), RelationContains, obj.id(), nil)
		}
	}
}

func (b *Builder) addPodDependencies(gb *graphBuilder, objects []k8sObject, services map[string]map[string]string) {
	for _, obj := range objects {
		if obj.kind != "Pod" {
			continue
		}
		var pod corev1.Pod
		if !obj.decodeInto(&pod) {
			continue
		}
		pid := obj.id()
		spec := pod.Spec

		if spec.ServiceAccountName != "" {
			gb.addEdge(pid, RelationDependsOn, objectID("ServiceAccount", spec.ServiceAccountName), nil)
		}

		for _, vol := range spec.Volumes {
			switch {
			case vol.ConfigMap != nil:
				gb.addEdge(pid, RelationDependsOn, objectID("ConfigMap", vol.ConfigMap.Name), nil)
			case vol.Secret != nil:
				gb.addEdge(pid, RelationDependsOn, objectID("Secret", vol.Secret.SecretName), nil)
			case vol.Projected != nil:
				for _, src := range vol.Projected.Sources {
					if src.ConfigMap != nil {
						gb.addEdge(pid, RelationDependsOn, objectID("ConfigMap", src.ConfigMap.Name), nil)
					}
					if src.Secret != nil {
						gb.addEdge(pid, RelationDependsOn, objectID("Secret", src.Secret.Name), nil)
					}
				}
			case vol.PersistentVolumeClaim != nil:
				gb.addEdge(pid, RelationDependsOn, objectID("PersistentVolumeClaim", vol.PersistentVolumeClaim.ClaimName), nil)
			}
		}

		containers := append(append([]corev1.Container{}, spec.Containers...), spec.InitContainers...)
		for _, c := range containers {
			b.addEnvDependencies(gb, pid, obj.namespace, c, services)
		}
	}
}

// addEnvDependencies wires config/secret references and service
// endpoints mentioned in container environments.
func (b *Builder) addEnvDependencies(gb *graphBuilder, pid, namespace string, c corev1.Container, services map[string]map[string]string) {
	for _, env := range c.Env {
		if env.ValueFrom != nil {
			if ref := env.ValueFrom.ConfigMapKeyRef; ref != nil && ref.Name != "" {
				gb.addEdge(pid, RelationDependsOn, objectID("ConfigMap", ref.Name), nil)
			}
			if ref := env.ValueFrom.SecretKeyRef; ref != nil && ref.Name != "" {
				gb.addEdge(pid, RelationDependsOn, objectID("Secret", ref.Name), nil)
			}
		}
		// A service name embedded in an env value (endpoint URLs,
		// broker addresses) is a runtime dependency.
		if env.Value != "" {
			for svcName, svcID := range services[namespace] {
				if strings.Contains(env.Value, svcName) {
					gb.addEdge(pid, RelationDependsOn, svcID, nil)
				}
			}
		}
	}
	for _, envFrom := range c.EnvFrom {
		if envFrom.ConfigMapRef != nil && envFrom.ConfigMapRef.Name != "" {
			gb.addEdge(pid, RelationDependsOn, objectID("ConfigMap", envFrom.ConfigMapRef.Name), nil)
		}
		if envFrom.SecretRef != nil && envFrom.SecretRef.Name != "" {
			gb.addEdge(pid, RelationDependsOn, objectID("Secret", envFrom.SecretRef.Name), nil)
		}
	}
}

func (b *Builder) addArchitecture(gb *graphBuilder, arch *Architecture, services map[string]map[string]string) {
	var all []string
	seen := map[string]bool{}
	for _, c := range arch.Components.Services {
		if c.Name != "" && !seen[c.Name] {
			seen[c.Name] = true
			all = append(all, c.Name)
		}
	}
	for _, c := range arch.Components.Infrastructure {
		if c.Name != "" && !seen[c.Name] {
			seen[c.Name] = true
			all = append(all, c.Name)
		}
	}

	for _, name := range all {
		gb.addNode(Node{ID: name, Kind: "App", Name: name})
	}

	for _, name := range all {
		if actual := resolveService(name, services); actual != "" && actual != name {
			gb.addEdge(name, RelationIsAlias, actual, nil)
		}
	}

	for _, dep := range arch.Dependencies {
		if dep.Source == "" || dep.Target == "" {
			continue
		}
		gb.addNode(Node{ID: dep.Source, Kind: "App", Name: dep.Source})
		gb.addNode(Node{ID: dep.Target, Kind: "App", Name: dep.Target})

		target := dep.Target
		if actual := resolveService(dep.Target, services); actual != "" {
			target = actual
		}
		gb.addEdge(dep.Source, RelationCalls, target, dep.meta())
	}
}

// resolveService maps an architecture-level name onto a concrete
// Service node, trying the exact name and its -service/_service
// stripped variants across namespaces in sorted order.
func resolveService(name string, services map[string]map[string]string) string {
	candidates := []string{name}
	for _, suffix := range []string{"-service", "_service", "-svc", "_svc"} {
		if strings.HasSuffix(name, suffix) {
			candidates = append(candidates, strings.TrimSuffix(name, suffix))
		}
	}

	namespaces := make([]string, 0, len(services))
	for ns := range services {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, candidate := range candidates {
		for _, ns := range namespaces {
			if id, ok := services[ns][candidate]; ok {
				return id
			}
		}
	}
	return ""
}
