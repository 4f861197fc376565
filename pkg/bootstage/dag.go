package bootstage

import (
	"fmt"

	"github.com/spectrocloud-labs/herd"
)

// WriteDAG renders g's step layers for --dry-run output, the same shape
// the teacher's pkg/state.State.WriteDAG produces for its mount DAG.
func WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (run: %t)\n", op.Name, op.Error.Error(), op.Executed)
			} else {
				out += fmt.Sprintf(" <%s> (run: %t)\n", op.Name, op.Executed)
			}
		}
	}
	return
}
