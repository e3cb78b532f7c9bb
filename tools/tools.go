// Package tools assembles the built-in tool suite for registration.
package tools

import (
	"github.com/nevindra/hive"
	"github.com/nevindra/hive/tools/clock"
	"github.com/nevindra/hive/tools/code"
	"github.com/nevindra/hive/tools/file"
	httptool "github.com/nevindra/hive/tools/http"
	"github.com/nevindra/hive/tools/scratch"
	"github.com/nevindra/hive/tools/shell"
	"github.com/nevindra/hive/tools/skill"
	"github.com/nevindra/hive/tools/think"
	"github.com/nevindra/hive/tools/todo"
)

// Builtin returns a registry with every built-in tool registered. Plugin
// tools (the memory suite among them) and MCP tools are contributed
// separately at swarm build time.
func Builtin() *hive.ToolRegistry {
	r := hive.NewToolRegistry()
	r.Register(think.Spec(), clock.Spec(), todo.Spec())
	r.Register(scratch.Specs()...)
	r.Register(file.Specs()...)
	r.Register(shell.Spec(), httptool.Spec(), code.Spec())
	r.Register(skill.Specs()...)
	return r
}
