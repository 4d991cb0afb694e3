package rig

import (
	"fmt"

	"github.com/qmuntal/gltf"
)

// LoadInventoryFromGLTF reads a glTF/GLB file and returns the channel
// inventory the resolver needs: one Node per mesh-bearing scene node,
// with the mesh's morph-target names in declaration order. Target names
// live in the mesh extras under "targetNames"; meshes without named
// targets get synthetic "target_N" names, which simply never match.
func LoadInventoryFromGLTF(path string) ([]Node, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}

	var nodes []Node
	seen := make(map[int]bool, len(doc.Meshes))

	for _, gn := range doc.Nodes {
		if gn.Mesh == nil {
			continue
		}
		meshIdx := int(*gn.Mesh)
		if meshIdx >= len(doc.Meshes) {
			continue
		}
		seen[meshIdx] = true
		mesh := doc.Meshes[meshIdx]
		nodes = append(nodes, Node{
			Name:     gn.Name,
			MeshName: mesh.Name,
			Channels: meshChannels(mesh),
		})
	}

	// Some exporters emit meshes that no node references. Include them
	// so a viseme-bearing mesh is never lost.
	for i, mesh := range doc.Meshes {
		if seen[i] {
			continue
		}
		nodes = append(nodes, Node{
			Name:     mesh.Name,
			MeshName: mesh.Name,
			Channels: meshChannels(mesh),
		})
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("no meshes in %s", path)
	}
	return nodes, nil
}

func meshChannels(mesh *gltf.Mesh) []Channel {
	targetCount := 0
	if len(mesh.Primitives) > 0 {
		targetCount = len(mesh.Primitives[0].Targets)
	}
	if targetCount == 0 {
		return nil
	}

	channels := make([]Channel, targetCount)
	for i := range channels {
		channels[i] = Channel{Name: fmt.Sprintf("target_%d", i), Index: i}
	}

	if extras, ok := mesh.Extras.(map[string]interface{}); ok {
		if targetNames, ok := extras["targetNames"].([]interface{}); ok {
			for i, name := range targetNames {
				if i >= len(channels) {
					break
				}
				if strName, ok := name.(string); ok {
					channels[i].Name = strName
				}
			}
		}
	}
	return channels
}
