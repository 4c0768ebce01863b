package engine

import "strings"

// Banner text emitted around hook sections. The "No ... hook defined" lines
// appear literally in captured logs and operators grep for them.
const (
	beforeHookBanner  = "--- before hook ---"
	afterHookBanner   = "--- after hook ---"
	commandBanner     = "--- command ---"
	noBeforeHookLine  = "echo \"No before hook defined\""
	noAfterHookLine   = "echo \"No after hook defined\""
	beforeHookEcho    = "echo \"" + beforeHookBanner + "\""
	afterHookEcho     = "echo \"" + afterHookBanner + "\""
	commandBannerEcho = "echo \"" + commandBanner + "\""
)

// ComposeScript wraps a base command with optional before/after hook bodies
// and diagnostic echo markers into a single executable script. Hook content
// is not validated here; pre-approval happens upstream. The result is pure
// string construction; persisting it to a .sh file is the caller's concern.
func ComposeScript(baseCommand string, hooks Hooks) string {
	var b strings.Builder

	b.WriteString(beforeHookEcho)
	b.WriteByte('\n')
	if hooks.Before != "" {
		b.WriteString(hooks.Before)
	} else {
		b.WriteString(noBeforeHookLine)
	}
	b.WriteByte('\n')

	b.WriteString(commandBannerEcho)
	b.WriteByte('\n')
	b.WriteString(baseCommand)
	b.WriteByte('\n')

	b.WriteString(afterHookEcho)
	b.WriteByte('\n')
	if hooks.After != "" {
		b.WriteString(hooks.After)
	} else {
		b.WriteString(noAfterHookLine)
	}
	b.WriteByte('\n')

	return b.String()
}
