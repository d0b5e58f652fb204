package apply

import (
	"fmt"
	"strings"
)

// ChangeSetTrailer is the commit trailer holding the change-set hash.
const ChangeSetTrailer = "Change-Set"

// commitMessage renders a summary line, one bullet per change with its
// rationale, and the change-set trailer.
func commitMessage(plan *Plan) string {
	var b strings.Builder
	if len(plan.Changes) == 1 {
		fmt.Fprintf(&b, "sdd: %s\n", plan.Changes[0].Describe())
	} else {
		fmt.Fprintf(&b, "sdd: apply %d changes\n", len(plan.Changes))
	}
	b.WriteString("\n")
	for _, c := range plan.Changes {
		fmt.Fprintf(&b, "- %s", c.Describe())
		if r := strings.TrimSpace(c.Rationale); r != "" {
			fmt.Fprintf(&b, ": %s", strings.Join(strings.Fields(r), " "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%s: %s\n", ChangeSetTrailer, plan.ChangeSetID)
	return b.String()
}
