package k8sspecs

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Change types.
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeChanged = "changed"

	ChangeEntityAdded    = "entity_added"
	ChangeEntityRemoved  = "entity_removed"
	ChangeEntityModified = "entity_modified"
)

// Change is one atom of a spec diff or a lifecycle observation. The
// lifecycle fields (Inferred onward) are only set on entity_* changes.
type Change struct {
	Path string      `json:"path"`
	Type string      `json:"type"`
	Old  interface{} `json:"old,omitempty"`
	New  interface{} `json:"new,omitempty"`

	// VersionChange annotates image-tag changes: upgrade, downgrade or same.
	VersionChange string `json:"version_change,omitempty"`

	Inferred  *bool                  `json:"inferred,omitempty"`
	Confirmed *bool                  `json:"confirmed,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Evidence  map[string]interface{} `json:"evidence,omitempty"`
}

// computeDiff walks two cleaned specs recursively. Map keys are visited
// in sorted order so output (and pagination built on it) is stable.
// Lists are compared element-wise when lengths match, else the whole
// list is reported as changed.
func computeDiff(old, new interface{}, path string) []Change {
	var changes []Change

	oldMap, oldIsMap := old.(map[string]interface{})
	newMap, newIsMap := new.(map[string]interface{})
	if oldIsMap && newIsMap {
		keys := map[string]bool{}
		for k := range oldMap {
			keys[k] = true
		}
		for k := range newMap {
			keys[k] = true
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)

		for _, key := range sorted {
			sub := key
			if path != "" {
				sub = path + "." + key
			}
			oldVal, inOld := oldMap[key]
			newVal, inNew := newMap[key]
			switch {
			case !inOld:
				changes = append(changes, Change{Path: sub, Type: ChangeAdded, New: newVal})
			case !inNew:
				changes = append(changes, Change{Path: sub, Type: ChangeRemoved, Old: oldVal})
			default:
				changes = append(changes, computeDiff(oldVal, newVal, sub)...)
			}
		}
		return changes
	}

	oldList, oldIsList := old.([]interface{})
	newList, newIsList := new.([]interface{})
	if oldIsList && newIsList {
		if len(oldList) != len(newList) {
			return []Change{changedAt(path, old, new)}
		}
		for i := range oldList {
			changes = append(changes, computeDiff(oldList[i], newList[i], fmt.Sprintf("%s[%d]", path, i))...)
		}
		return changes
	}

	if !reflect.DeepEqual(old, new) {
		return []Change{changedAt(path, old, new)}
	}
	return nil
}

func changedAt(path string, old, new interface{}) Change {
	if path == "" {
		path = "root"
	}
	c := Change{Path: path, Type: ChangeChanged, Old: old, New: new}
	if isImagePath(path) {
		c.VersionChange = classifyImageChange(old, new)
	}
	return c
}

func isImagePath(path string) bool {
	return path == "image" || strings.HasSuffix(path, ".image")
}

// classifyImageChange compares the tags of two image references. Both
// tags must parse as versions for a verdict; anything else (digests,
// "latest", missing tags) yields no annotation.
func classifyImageChange(old, new interface{}) string {
	oldTag, ok := imageTag(old)
	if !ok {
		return ""
	}
	newTag, ok := imageTag(new)
	if !ok {
		return ""
	}
	oldVer, err := goversion.NewVersion(oldTag)
	if err != nil {
		return ""
	}
	newVer, err := goversion.NewVersion(newTag)
	if err != nil {
		return ""
	}
	switch {
	case newVer.GreaterThan(oldVer):
		return "upgrade"
	case newVer.LessThan(oldVer):
		return "downgrade"
	default:
		return "same"
	}
}

func imageTag(v interface{}) (string, bool) {
	image, ok := v.(string)
	if !ok {
		return "", false
	}
	idx := strings.LastIndex(image, ":")
	if idx < 0 {
		return "", false
	}
	tag := image[idx+1:]
	// A colon inside the registry host (host:port/repo) is not a tag.
	if tag == "" || strings.Contains(tag, "/") {
		return "", false
	}
	return tag, true
}
