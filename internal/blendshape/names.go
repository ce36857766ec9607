// Package blendshape defines the canonical facial blendshape vocabulary and
// the canonicalization of raw shape names into it.
package blendshape

// CanonicalNames is the closed vocabulary of facial blendshapes. It matches
// the 52-target ARKit set most avatar meshes expose as morph targets.
var CanonicalNames = []string{
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
	"tongueOut",
}

// IsCanonical reports whether name is a member of the closed vocabulary.
func IsCanonical(name string) bool {
	_, ok := canonicalSet[name]
	return ok
}

var canonicalSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(CanonicalNames))
	for _, n := range CanonicalNames {
		set[n] = struct{}{}
	}
	return set
}()
