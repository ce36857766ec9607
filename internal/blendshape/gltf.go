package blendshape

import (
	"fmt"

	"github.com/qmuntal/gltf"
)

// MorphTargetNames extracts the morph target names declared in a glTF
// document's mesh extras ("targetNames", the de facto exporter convention).
func MorphTargetNames(doc *gltf.Document) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, mesh := range doc.Meshes {
		extras, ok := mesh.Extras.(map[string]interface{})
		if !ok {
			continue
		}
		targetNames, ok := extras["targetNames"].([]interface{})
		if !ok {
			continue
		}
		for _, n := range targetNames {
			name, ok := n.(string)
			if !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// LoadMorphTargetNames opens a glTF avatar file and returns its morph target
// names.
func LoadMorphTargetNames(path string) ([]string, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return MorphTargetNames(doc), nil
}

// ValidateModel reports which canonical names the given morph targets do not
// cover, after canonicalizing the target spellings. An empty result means
// the mesh can express the full vocabulary.
func ValidateModel(targetNames []string) (missing []string) {
	have := make(map[string]struct{}, len(targetNames))
	for _, n := range targetNames {
		have[Canonicalize(n)] = struct{}{}
	}
	for _, name := range CanonicalNames {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
