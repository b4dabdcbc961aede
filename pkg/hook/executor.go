// Package hook runs the lifecycle scripts a package carries in its metadata.
// Scripts are written in Tengo and receive the package identity and target
// directory as script variables; a script signals failure by assigning a
// non-empty string or error to `err`.
package hook

import (
	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/model"
)

// Context carries the variables exposed to a hook script.
type Context struct {
	PackageName    string
	PackageVersion string
	TargetDir      string
	Vars           map[string]interface{}
}

// TengoExecutor runs hook scripts with the Tengo interpreter.
type TengoExecutor struct{}

// NewTengoExecutor creates a new TengoExecutor.
func NewTengoExecutor() *TengoExecutor {
	return &TengoExecutor{}
}

// Execute runs one script. An empty script is a no-op.
func (e *TengoExecutor) Execute(hookName, script string, ctx Context) error {
	if script == "" {
		return nil
	}

	instance := tengo.NewScript([]byte(script))
	instance.SetImports(stdlib.GetModuleMap("fmt", "os", "strings", "text", "times"))

	_ = instance.Add("packageName", ctx.PackageName)
	_ = instance.Add("packageVersion", ctx.PackageVersion)
	_ = instance.Add("targetDir", ctx.TargetDir)
	for k, v := range ctx.Vars {
		_ = instance.Add(k, v)
	}

	compiled, err := instance.Run()
	if err != nil {
		return errors.Wrapf(errors.ErrHookExecution, "%s: %v", hookName, err)
	}

	if errVar := compiled.Get("err"); errVar != nil {
		switch v := errVar.Value().(type) {
		case error:
			return errors.Wrapf(errors.ErrHookScript, "%s: %s", hookName, v.Error())
		case string:
			if v != "" {
				return errors.Wrapf(errors.ErrHookScript, "%s: %s", hookName, v)
			}
		}
	}
	return nil
}

// Manager runs the hooks a metadata document declares.
type Manager struct {
	executor *TengoExecutor
}

// NewManager creates a new hook Manager.
func NewManager() *Manager {
	return &Manager{executor: NewTengoExecutor()}
}

// Run executes the named hook of md, if declared. The package identity and
// targetDir are exposed to the script.
func (m *Manager) Run(md *model.Metadata, hookName, targetDir string) error {
	if md == nil {
		return nil
	}
	script, ok := md.Hooks[hookName]
	if !ok {
		return nil
	}
	logger.Debug("running hook", logger.Fields{"package": md.ID(), "hook": hookName})
	return m.executor.Execute(hookName, script, Context{
		PackageName:    model.NormalizeName(md.Name),
		PackageVersion: md.Version,
		TargetDir:      targetDir,
	})
}
