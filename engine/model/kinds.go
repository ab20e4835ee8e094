package model

import "fmt"

// PipelineKind is the closed set of pipelines an essence can be drawn with.
type PipelineKind uint8

const (
	PipelinePBR PipelineKind = iota
	PipelineDebug
	PipelineParticle

	PipelineKindCount = 3
)

func (k PipelineKind) String() string {
	switch k {
	case PipelinePBR:
		return "pbr"
	case PipelineDebug:
		return "debug"
	case PipelineParticle:
		return "particle"
	}
	return fmt.Sprintf("pipeline(%d)", uint8(k))
}

// ParsePipelineKind accepts the names returned by String.
func ParsePipelineKind(s string) (PipelineKind, error) {
	for k := PipelineKind(0); k < PipelineKindCount; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown pipeline kind '%s'", s)
}
